package retracesdk

// HistoryEntry is a single browsing history record. URL is the record key.
// Title may be empty. VisitCount is never negative. LastVisitTime is Unix
// milliseconds and is positive for every entry that crosses the wire;
// enumeration drops records that cannot satisfy that before transmission.
type HistoryEntry struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	VisitCount    int    `json:"visit_count"`
	LastVisitTime int64  `json:"last_visit_time"`
}

// Valid reports whether the entry satisfies the record contract.
func (e HistoryEntry) Valid() bool {
	return e.URL != "" && e.VisitCount >= 0 && e.LastVisitTime > 0
}

// RecordSet is an ordered collection of history entries, unique by URL and
// sorted by LastVisitTime descending.
type RecordSet []HistoryEntry

// HistoryBatch is one transfer unit of a record set. Concatenating the
// records of batches 1..TotalBatches in sequence order reproduces the full
// record set.
type HistoryBatch struct {
	SequenceNumber int
	TotalBatches   int
	Records        []HistoryEntry
}

// SplitBatches slices set into batches of at most batchSize records each.
// Sequence numbers start at 1 and every batch carries the same total,
// ceil(len(set)/batchSize). An empty set yields no batches. batchSize must
// be positive; anything less is treated as 1.
func SplitBatches(set RecordSet, batchSize int) []HistoryBatch {
	if len(set) == 0 {
		return nil
	}
	if batchSize < 1 {
		batchSize = 1
	}
	total := (len(set) + batchSize - 1) / batchSize
	batches := make([]HistoryBatch, 0, total)
	for start := 0; start < len(set); start += batchSize {
		end := start + batchSize
		if end > len(set) {
			end = len(set)
		}
		batches = append(batches, HistoryBatch{
			SequenceNumber: len(batches) + 1,
			TotalBatches:   total,
			Records:        set[start:end],
		})
	}
	return batches
}
