package cache_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pulse/internal/platform/cache"
)

type CacheSuite struct {
	suite.Suite
	now   time.Time
	cache *cache.TTL
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.cache = cache.New(cache.WithClock(func() time.Time { return s.now }))
}

func (s *CacheSuite) TestSetGetRoundTrip() {
	s.cache.Set("k", 42, time.Minute)

	v, ok := s.cache.Get("k")
	s.True(ok)
	s.Equal(42, v)
}

func (s *CacheSuite) TestExpiryHidesEntries() {
	s.cache.Set("k", 42, time.Minute)

	s.now = s.now.Add(2 * time.Minute)
	_, ok := s.cache.Get("k")
	s.False(ok)
}

func (s *CacheSuite) TestInvalidateRemovesEntry() {
	s.cache.Set("k", 42, time.Minute)
	s.cache.Invalidate("k")

	_, ok := s.cache.Get("k")
	s.False(ok)
}

func (s *CacheSuite) TestGetOrLoadCachesSuccess() {
	loads := 0
	load := func() (any, error) {
		loads++
		return "value", nil
	}

	v, err := s.cache.GetOrLoad("k", time.Minute, load)
	s.Require().NoError(err)
	s.Equal("value", v)

	_, err = s.cache.GetOrLoad("k", time.Minute, load)
	s.Require().NoError(err)
	s.Equal(1, loads)
}

func (s *CacheSuite) TestGetOrLoadDoesNotCacheErrors() {
	loads := 0
	failing := func() (any, error) {
		loads++
		return nil, errors.New("connection refused")
	}

	_, err := s.cache.GetOrLoad("k", time.Minute, failing)
	s.Require().Error(err)
	_, err = s.cache.GetOrLoad("k", time.Minute, failing)
	s.Require().Error(err)
	s.Equal(2, loads, "failed loads are retried on the next call")
}

func (s *CacheSuite) TestConcurrentLoadsCollapse() {
	var loads atomic.Int32
	release := make(chan struct{})
	load := func() (any, error) {
		loads.Add(1)
		<-release
		return "value", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.cache.GetOrLoad("k", time.Minute, load)
			s.NoError(err)
			s.Equal("value", v)
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	s.Equal(int32(1), loads.Load(), "concurrent callers share one load")
}

func (s *CacheSuite) TestPurgeDropsOnlyExpired() {
	s.cache.Set("old", 1, time.Minute)
	s.cache.Set("fresh", 2, time.Hour)

	s.now = s.now.Add(10 * time.Minute)
	removed := s.cache.Purge()

	s.Equal(1, removed)
	s.Equal(1, s.cache.Len())
	_, ok := s.cache.Get("fresh")
	s.True(ok)
}
