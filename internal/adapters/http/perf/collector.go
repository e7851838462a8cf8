package perf

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRingSize is the default capacity of the ring buffer.
const DefaultRingSize = 2048

// EntryKind distinguishes served requests, outbound calls and queries.
type EntryKind uint8

const (
	KindRequest EntryKind = iota // served by the dev backend
	KindCall                     // REST call made by the agent
	KindQuery                    // SQLite statement
)

// Entry is a single timing record stored in the ring buffer.
type Entry struct {
	Kind       EntryKind
	Path       string // "GET /user" or the SQL operation name
	StatusCode int    // 0 for queries and transport failures
	DurationMs float64
	Timestamp  time.Time
}

// Collector is a fixed-size ring buffer for timing entries.
// When full, the oldest entries are overwritten.
type Collector struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	pos     int
	count   int64
}

// NewCollector creates a collector with the given ring buffer capacity.
// PRE: none; size <= 0 selects DefaultRingSize
// POST: Returns a ready-to-use collector with pre-allocated storage
func NewCollector(size int) *Collector {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Collector{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Record appends an entry to the ring buffer.
// PRE: e is a valid Entry
// POST: Entry stored; if buffer full, oldest entry overwritten
func (c *Collector) Record(e Entry) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries[c.pos] = e
	c.pos = (c.pos + 1) % c.size
	c.mu.Unlock()
	atomic.AddInt64(&c.count, 1)
}

// Since records an entry timed from start.
func (c *Collector) Since(kind EntryKind, path string, status int, start time.Time) {
	c.Record(Entry{
		Kind:       kind,
		Path:       path,
		StatusCode: status,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Timestamp:  start,
	})
}

// TotalRecorded returns the total number of entries ever recorded.
func (c *Collector) TotalRecorded() int64 {
	if c == nil {
		return 0
	}
	return atomic.LoadInt64(&c.count)
}

// Snapshot holds aggregated performance data computed on read.
type Snapshot struct {
	TotalRecorded  int64
	Calls          int
	CallFailures   int
	CallP50Ms      float64
	CallP95Ms      float64
	SlowestPaths   []PathStat
	SlowestCalls   []PathStat
	SlowestQueries []PathStat
}

// PathStat aggregates timing for a single path or operation.
type PathStat struct {
	Path    string
	AvgMs   float64
	MaxMs   float64
	Count   int
	TotalMs float64
}

// Snapshot computes aggregated stats from entries recorded at or after since.
// PRE: topN > 0
// POST: Returns a Snapshot with call percentiles and top-N lists
func (c *Collector) Snapshot(since time.Time, topN int) Snapshot {
	c.mu.Lock()
	buf := make([]Entry, c.size)
	copy(buf, c.entries)
	c.mu.Unlock()

	var callDurations []float64
	failures := 0
	stats := map[EntryKind]map[string]*PathStat{
		KindRequest: {},
		KindCall:    {},
		KindQuery:   {},
	}

	for _, e := range buf {
		if e.Timestamp.IsZero() || e.Timestamp.Before(since) {
			continue
		}
		if e.Kind == KindCall {
			callDurations = append(callDurations, e.DurationMs)
			if e.StatusCode == 0 || e.StatusCode >= 500 {
				failures++
			}
		}
		byPath, ok := stats[e.Kind]
		if !ok {
			continue
		}
		s, ok := byPath[e.Path]
		if !ok {
			s = &PathStat{Path: e.Path}
			byPath[e.Path] = s
		}
		s.Count++
		s.TotalMs += e.DurationMs
		if e.DurationMs > s.MaxMs {
			s.MaxMs = e.DurationMs
		}
	}

	for _, byPath := range stats {
		for _, s := range byPath {
			s.AvgMs = s.TotalMs / float64(s.Count)
		}
	}

	snap := Snapshot{
		TotalRecorded:  c.TotalRecorded(),
		Calls:          len(callDurations),
		CallFailures:   failures,
		SlowestPaths:   topByAvg(stats[KindRequest], topN),
		SlowestCalls:   topByAvg(stats[KindCall], topN),
		SlowestQueries: topByAvg(stats[KindQuery], topN),
	}

	if len(callDurations) > 0 {
		sort.Float64s(callDurations)
		snap.CallP50Ms = percentile(callDurations, 50)
		snap.CallP95Ms = percentile(callDurations, 95)
	}

	return snap
}

// LogSummary writes a one-line snapshot summary at Info level.
func (c *Collector) LogSummary(since time.Time) {
	snap := c.Snapshot(since, 3)
	attrs := []any{
		"event", "perf_summary",
		"recorded", snap.TotalRecorded,
		"calls", snap.Calls,
		"call_failures", snap.CallFailures,
		"call_p50_ms", snap.CallP50Ms,
		"call_p95_ms", snap.CallP95Ms,
	}
	if len(snap.SlowestQueries) > 0 {
		attrs = append(attrs, "slowest_query", snap.SlowestQueries[0].Path, "slowest_query_ms", snap.SlowestQueries[0].MaxMs)
	}
	slog.Info("perf_event", attrs...)
}

// percentile returns the p-th percentile from a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper || upper >= len(sorted) {
		return sorted[lower]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// topByAvg returns the top N paths sorted by average duration (descending).
func topByAvg(stats map[string]*PathStat, n int) []PathStat {
	list := make([]PathStat, 0, len(stats))
	for _, s := range stats {
		list = append(list, *s)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].AvgMs > list[j].AvgMs
	})
	if len(list) > n {
		list = list[:n]
	}
	return list
}
