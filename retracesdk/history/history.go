package history

import (
	"context"
	"math"
	"sort"
	"time"

	"cdr.dev/slog"

	"github.com/retracehq/retrace/retracesdk"
)

// CallCap is the most entries a Source returns from one call, regardless of
// what was requested.
const CallCap = 10_000

// Query bounds one source call.
type Query struct {
	// Text filters entries whose URL or title contains it.
	Text string
	// Start and End bound last-visit times, half-open [Start, End); zero
	// values are unbounded.
	Start time.Time
	End   time.Time
	// MaxResults caps the returned entries. Values above CallCap, and
	// non-positive values, are treated as CallCap.
	MaxResults int
}

// Source produces history entries newest first, at most CallCap per call.
type Source interface {
	Query(ctx context.Context, q Query) ([]retracesdk.HistoryEntry, error)
}

// Window bounds an enumeration. The zero value is unbounded.
type Window struct {
	Start time.Time
	End   time.Time
}

// Enumerator gathers up to a target count of records from a capped source,
// issuing as many calls as the cap requires and merging the results into one
// record set.
type Enumerator struct {
	Source Source
	Logger slog.Logger
	// Text optionally filters every source call.
	Text string
}

// Enumerate returns at most target records from the window, sorted by last
// visit time descending and unique by URL. Enumeration is best effort:
// individual source call failures are logged and skipped, keeping partial
// results, but a canceled context aborts. An empty or inverted window yields
// an empty set without calling the source.
func (e *Enumerator) Enumerate(ctx context.Context, target int, window Window) (retracesdk.RecordSet, error) {
	if target <= 0 {
		return nil, nil
	}
	if !window.Start.IsZero() && !window.End.IsZero() && !window.End.After(window.Start) {
		return nil, nil
	}

	merged := make(map[string]retracesdk.HistoryEntry)
	var err error
	switch {
	case target <= CallCap:
		err = e.enumerateOnce(ctx, merged, target, window)
	case !window.Start.IsZero() && !window.End.IsZero():
		err = e.enumerateWindowed(ctx, merged, target, window)
	default:
		err = e.enumerateWalkback(ctx, merged, target, window)
	}
	if err != nil {
		return nil, err
	}

	set := make(retracesdk.RecordSet, 0, len(merged))
	for _, entry := range merged {
		set = append(set, entry)
	}
	sort.Slice(set, func(i, j int) bool {
		if set[i].LastVisitTime != set[j].LastVisitTime {
			return set[i].LastVisitTime > set[j].LastVisitTime
		}
		return set[i].URL < set[j].URL
	})
	if len(set) > target {
		set = set[:target]
	}
	e.Logger.Debug(ctx, "enumeration complete",
		slog.F("target", target), slog.F("entries", len(set)))
	return set, nil
}

// enumerateOnce covers targets within the cap with a single call.
func (e *Enumerator) enumerateOnce(ctx context.Context, merged map[string]retracesdk.HistoryEntry, target int, window Window) error {
	entries, err := e.Source.Query(ctx, Query{
		Text:       e.Text,
		Start:      window.Start,
		End:        window.End,
		MaxResults: target,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.Logger.Warn(ctx, "source call failed", slog.Error(err))
		return nil
	}
	mergeEntries(merged, entries)
	return nil
}

// enumerateWindowed partitions the window into equal sub-windows, one per
// call, queried newest first.
func (e *Enumerator) enumerateWindowed(ctx context.Context, merged map[string]retracesdk.HistoryEntry, target int, window Window) error {
	partitions := (target + CallCap - 1) / CallCap
	width := window.End.Sub(window.Start) / time.Duration(partitions)
	for i := 0; i < partitions && len(merged) < target; i++ {
		end := window.End.Add(-width * time.Duration(i))
		start := end.Add(-width)
		if i == partitions-1 {
			// Absorb division rounding into the oldest partition.
			start = window.Start
		}
		entries, err := e.Source.Query(ctx, Query{
			Text:       e.Text,
			Start:      start,
			End:        end,
			MaxResults: CallCap,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Best effort: keep what the other partitions return.
			e.Logger.Warn(ctx, "source call failed, skipping partition",
				slog.F("partition", i), slog.Error(err))
			continue
		}
		mergeEntries(merged, entries)
		e.Logger.Debug(ctx, "partition enumerated",
			slog.F("partition", i),
			slog.F("returned", len(entries)),
			slog.F("merged", len(merged)),
		)
		if len(entries) < CallCap/2 {
			// A thin partition signals exhausted data; further calls are
			// wasted.
			break
		}
	}
	return nil
}

// enumerateWalkback pages through an unbounded window by ending each call
// just before the oldest timestamp the previous call returned.
func (e *Enumerator) enumerateWalkback(ctx context.Context, merged map[string]retracesdk.HistoryEntry, target int, window Window) error {
	end := window.End
	prevOldest := int64(math.MaxInt64)
	for len(merged) < target {
		entries, err := e.Source.Query(ctx, Query{
			Text:       e.Text,
			Start:      window.Start,
			End:        end,
			MaxResults: CallCap,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Without a result there is no bound for the next page.
			e.Logger.Warn(ctx, "source call failed, stopping enumeration", slog.Error(err))
			return nil
		}
		if len(entries) == 0 {
			return nil
		}
		oldest := entries[0].LastVisitTime
		for _, entry := range entries {
			if entry.LastVisitTime < oldest {
				oldest = entry.LastVisitTime
			}
		}
		if oldest >= prevOldest {
			// The source ignored the window bound; a further call would
			// page over the same entries forever.
			e.Logger.Warn(ctx, "source did not advance past previous page, stopping enumeration",
				slog.F("oldest", oldest))
			return nil
		}
		prevOldest = oldest
		mergeEntries(merged, entries)
		e.Logger.Debug(ctx, "page enumerated",
			slog.F("returned", len(entries)),
			slog.F("merged", len(merged)),
			slog.F("oldest", oldest),
		)
		if len(entries) < CallCap/2 {
			return nil
		}
		end = time.UnixMilli(oldest)
	}
	return nil
}

// mergeEntries folds entries into merged, keyed by URL. The greater last
// visit time wins a collision; on a tie the higher visit count does. Entries
// violating the record contract are dropped here, before transmission.
func mergeEntries(merged map[string]retracesdk.HistoryEntry, entries []retracesdk.HistoryEntry) {
	for _, entry := range entries {
		if !entry.Valid() {
			continue
		}
		existing, ok := merged[entry.URL]
		if ok {
			if existing.LastVisitTime > entry.LastVisitTime {
				continue
			}
			if existing.LastVisitTime == entry.LastVisitTime && existing.VisitCount >= entry.VisitCount {
				continue
			}
		}
		merged[entry.URL] = entry
	}
}
