// Package clickhouse manages the native-protocol connection to the columnar
// event store. ClickHouse is optional; the relational store covers small
// deployments.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"pulse/internal/platform/config"
)

// Client wraps a ClickHouse native connection with health checking.
type Client struct {
	Conn clickhouse.Conn
}

// New opens a native TCP connection to ClickHouse.
// Returns nil if the address is empty (ClickHouse not configured).
func New(cfg config.ClickHouse) (*Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	options := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		conn.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &Client{Conn: conn}, nil
}

// Health checks if the ClickHouse connection is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.Conn.Ping(ctx)
}

// Close closes the ClickHouse connection.
func (c *Client) Close() error {
	if c == nil || c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}
