// Package engine computes aggregate rollups from raw events. Compute is pure:
// given the same window and event set it always produces the same aggregate,
// which is what makes overwrite-based storage safe under retries and
// backfills.
package engine

import (
	"sort"
	"time"

	"pulse/internal/aggregate/models"
	"pulse/internal/event"
)

// TopN bounds every breakdown and ranking list.
const TopN = 10

// freqTable accumulates counts in first-seen key order so ties sort
// deterministically.
type freqTable struct {
	order  []string
	counts map[string]int
	sums   map[string]int64
}

func newFreqTable() *freqTable {
	return &freqTable{counts: make(map[string]int), sums: make(map[string]int64)}
}

func (t *freqTable) add(key string, duration int64) {
	if key == "" {
		return
	}
	if _, ok := t.counts[key]; !ok {
		t.order = append(t.order, key)
	}
	t.counts[key]++
	t.sums[key] += duration
}

// breakdown renders the table as top-N entries with percentages of the window
// total. The sort is stable over first-seen order.
func (t *freqTable) breakdown(total int) []models.BreakdownEntry {
	if len(t.order) == 0 || total == 0 {
		return nil
	}
	entries := make([]models.BreakdownEntry, 0, len(t.order))
	for _, key := range t.order {
		entries = append(entries, models.BreakdownEntry{
			Key:        key,
			Count:      t.counts[key],
			Percentage: float64(t.counts[key]) / float64(total) * 100,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	if len(entries) > TopN {
		entries = entries[:TopN]
	}
	return entries
}

// usage renders the table as top-N entries with running-average durations.
func (t *freqTable) usage() []models.UsageEntry {
	if len(t.order) == 0 {
		return nil
	}
	entries := make([]models.UsageEntry, 0, len(t.order))
	for _, key := range t.order {
		entries = append(entries, models.UsageEntry{
			Key:           key,
			Count:         t.counts[key],
			AvgDurationMs: float64(t.sums[key]) / float64(t.counts[key]),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	if len(entries) > TopN {
		entries = entries[:TopN]
	}
	return entries
}

// Compute rolls the events up into one aggregate for the window. Events
// outside [windowStart, windowEnd) or missing required fields are skipped;
// skipped events reduce DataCompleteness instead of failing the computation.
// LastUpdated is stamped by the caller, not here, so Compute stays pure.
func Compute(entityType, entityID string, period models.Period, windowStart time.Time, events []event.Event) models.Aggregate {
	windowEnd := windowStart.Add(period.Duration())
	agg := models.Aggregate{
		EntityType:       entityType,
		EntityID:         entityID,
		Period:           period,
		WindowStart:      windowStart,
		WindowEnd:        windowEnd,
		DataCompleteness: 1,
	}

	var (
		inWindow  int
		skipped   int
		geo       = newFreqTable()
		referrers = newFreqTable()
		devices   = newFreqTable()
		browsers  = newFreqTable()
		sections  = newFreqTable()
		features  = newFreqTable()

		sessionEvents = make(map[string]int)
		sessionMaxMs  = make(map[string]int64)
		sessionOrder  []string
		viewSessions  = make(map[string]bool)
	)

	for i := range events {
		e := &events[i]
		if e.Timestamp.Before(windowStart) || !e.Timestamp.Before(windowEnd) {
			continue
		}
		inWindow++
		if e.ID == "" || e.SessionID == "" || e.Timestamp.IsZero() {
			skipped++
			continue
		}

		if _, ok := sessionEvents[e.SessionID]; !ok {
			sessionOrder = append(sessionOrder, e.SessionID)
		}
		sessionEvents[e.SessionID]++
		if d := e.Properties.Duration(); d > sessionMaxMs[e.SessionID] {
			sessionMaxMs[e.SessionID] = d
		}

		switch e.Type {
		case event.TypeView, event.TypePage:
			agg.ViewCount++
			viewSessions[e.SessionID] = true
		case event.TypeDownload:
			agg.DownloadCount++
		case event.TypeShare:
			agg.ShareCount++
		case event.TypeContact:
			agg.ContactCount++
		case event.TypeBooking:
			agg.BookingCount++
		}

		geo.add(e.Context.Location.Country, 0)
		referrers.add(e.Context.Referrer, 0)
		devices.add(e.Context.DeviceType, 0)
		browsers.add(e.Context.Browser, 0)
		if e.Properties.Page != nil {
			sections.add(e.Properties.Page.Section, e.Properties.Page.Duration)
		}
		if e.Properties.Action != nil {
			features.add(e.Properties.Action.Feature, e.Properties.Action.Duration)
		}
	}

	counted := inWindow - skipped

	agg.UniqueSessions = len(viewSessions)

	if len(sessionOrder) > 0 {
		bounced := 0
		var engagementSum int64
		for _, sid := range sessionOrder {
			if sessionEvents[sid] == 1 {
				bounced++
			}
			engagementSum += sessionMaxMs[sid]
		}
		agg.BounceRate = float64(bounced) / float64(len(sessionOrder))
		agg.AvgEngagementMs = float64(engagementSum) / float64(len(sessionOrder))
	}

	agg.ConversionCount = agg.ContactCount + agg.BookingCount
	if agg.UniqueSessions > 0 {
		agg.ConversionRate = float64(agg.ConversionCount) / float64(agg.UniqueSessions)
	}

	agg.Geographic = geo.breakdown(counted)
	agg.Referrers = referrers.breakdown(counted)
	agg.Devices = devices.breakdown(counted)
	agg.Browsers = browsers.breakdown(counted)
	agg.TopSections = sections.usage()
	agg.TopFeatures = features.usage()

	if inWindow > 0 {
		agg.DataCompleteness = float64(counted) / float64(inWindow)
	}
	return agg
}
