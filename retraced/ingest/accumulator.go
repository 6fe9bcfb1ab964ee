package ingest

import (
	"fmt"

	"github.com/retracehq/retrace/retracesdk"
)

const (
	// DefaultWarnThreshold is the buffered-entry count past which batch
	// acknowledgments carry a capacity warning.
	DefaultWarnThreshold = 50_000
	// DefaultHardCap bounds the buffer. Records past it are counted but not
	// retained, so an oversized transfer degrades instead of failing.
	DefaultHardCap = 100_000
)

// Accumulator buffers the history records of one exchange session. It keeps
// an exact count of every record a client sent even after the buffer stops
// growing, so acknowledgment totals always reconcile with what the client
// transmitted. Not safe for concurrent use; each session owns one.
type Accumulator struct {
	WarnThreshold int
	HardCap       int

	entries  retracesdk.RecordSet
	received int
	dropped  int
}

// Result describes one ingested batch for its acknowledgment.
type Result struct {
	// Received counts the records in this batch. Summing it across a
	// session's acknowledgments reproduces the session total exactly once.
	Received int
	// Total is the running record count for the session.
	Total int
	// Warning is set on every result after Total crosses the warn
	// threshold. It never fails the transfer.
	Warning string
}

func New(warnThreshold, hardCap int) *Accumulator {
	if warnThreshold <= 0 {
		warnThreshold = DefaultWarnThreshold
	}
	if hardCap <= 0 {
		hardCap = DefaultHardCap
	}
	return &Accumulator{
		WarnThreshold: warnThreshold,
		HardCap:       hardCap,
	}
}

// Ingest appends a batch to the buffer and returns the counts for its
// acknowledgment. Every record counts toward the total. Records that violate
// the record contract, and records arriving after the buffer reached the
// hard cap, are dropped from the buffer only.
func (a *Accumulator) Ingest(records []retracesdk.HistoryEntry) Result {
	a.received += len(records)
	for _, record := range records {
		if !record.Valid() {
			a.dropped++
			continue
		}
		if len(a.entries) >= a.HardCap {
			a.dropped++
			continue
		}
		a.entries = append(a.entries, record)
	}

	result := Result{
		Received: len(records),
		Total:    a.received,
	}
	switch {
	case len(a.entries) >= a.HardCap && a.received > a.HardCap:
		result.Warning = fmt.Sprintf("history buffer is full at %d entries; the rest are counted but not retained", a.HardCap)
	case a.received > a.WarnThreshold:
		result.Warning = fmt.Sprintf("history upload exceeds %d entries; consider sending a smaller, more relevant set", a.WarnThreshold)
	}
	return result
}

// Entries returns the buffered records.
func (a *Accumulator) Entries() retracesdk.RecordSet {
	return a.entries
}

// TotalReceived counts every record ingested, retained or not.
func (a *Accumulator) TotalReceived() int {
	return a.received
}

// Dropped counts records that were ingested but not retained.
func (a *Accumulator) Dropped() int {
	return a.dropped
}
