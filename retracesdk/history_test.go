package retracesdk_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/retracehq/retrace/retracesdk"
)

func makeRecordSet(n int) retracesdk.RecordSet {
	set := make(retracesdk.RecordSet, 0, n)
	for i := 0; i < n; i++ {
		set = append(set, retracesdk.HistoryEntry{
			URL:           fmt.Sprintf("https://example.com/page/%d", i),
			Title:         fmt.Sprintf("Page %d", i),
			VisitCount:    1,
			LastVisitTime: int64(1_700_000_000_000 - i),
		})
	}
	return set
}

func TestSplitBatches(t *testing.T) {
	t.Parallel()

	t.Run("Empty", func(t *testing.T) {
		t.Parallel()
		require.Nil(t, retracesdk.SplitBatches(nil, 500))
		require.Nil(t, retracesdk.SplitBatches(retracesdk.RecordSet{}, 500))
	})

	t.Run("SingleBatch", func(t *testing.T) {
		t.Parallel()
		set := makeRecordSet(10)
		batches := retracesdk.SplitBatches(set, 500)
		require.Len(t, batches, 1)
		require.Equal(t, 1, batches[0].SequenceNumber)
		require.Equal(t, 1, batches[0].TotalBatches)
		require.Equal(t, []retracesdk.HistoryEntry(set), batches[0].Records)
	})

	t.Run("ExactMultiple", func(t *testing.T) {
		t.Parallel()
		batches := retracesdk.SplitBatches(makeRecordSet(1000), 500)
		require.Len(t, batches, 2)
		require.Len(t, batches[0].Records, 500)
		require.Len(t, batches[1].Records, 500)
	})

	t.Run("Remainder", func(t *testing.T) {
		t.Parallel()
		const (
			n         = 12_345
			batchSize = 500
		)
		set := makeRecordSet(n)
		batches := retracesdk.SplitBatches(set, batchSize)
		require.Len(t, batches, 25)
		require.Len(t, batches[len(batches)-1].Records, 345)

		var rejoined retracesdk.RecordSet
		for i, batch := range batches {
			require.Equal(t, i+1, batch.SequenceNumber)
			require.Equal(t, 25, batch.TotalBatches)
			if i < len(batches)-1 {
				require.Len(t, batch.Records, batchSize)
			}
			rejoined = append(rejoined, batch.Records...)
		}
		require.Equal(t, set, rejoined)
	})

	t.Run("DegenerateBatchSize", func(t *testing.T) {
		t.Parallel()
		batches := retracesdk.SplitBatches(makeRecordSet(3), 0)
		require.Len(t, batches, 3)
		for i, batch := range batches {
			require.Equal(t, i+1, batch.SequenceNumber)
			require.Equal(t, 3, batch.TotalBatches)
			require.Len(t, batch.Records, 1)
		}
	})
}

func TestHistoryEntryValid(t *testing.T) {
	t.Parallel()

	valid := retracesdk.HistoryEntry{
		URL:           "https://example.com",
		VisitCount:    0,
		LastVisitTime: 1,
	}
	require.True(t, valid.Valid())

	for name, entry := range map[string]retracesdk.HistoryEntry{
		"EmptyURL":           {LastVisitTime: 1},
		"ZeroVisitTime":      {URL: "https://example.com"},
		"NegativeVisitTime":  {URL: "https://example.com", LastVisitTime: -5},
		"NegativeVisitCount": {URL: "https://example.com", LastVisitTime: 1, VisitCount: -1},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			require.False(t, entry.Valid())
		})
	}
}

func TestMessageWireFormat(t *testing.T) {
	t.Parallel()

	t.Run("HistoryBatch", func(t *testing.T) {
		t.Parallel()
		b, err := json.Marshal(retracesdk.ClientMessage{
			Type: retracesdk.MessageTypeHistoryBatch,
			History: []retracesdk.HistoryEntry{{
				URL:           "https://example.com",
				Title:         "Example",
				VisitCount:    3,
				LastVisitTime: 1_700_000_000_000,
			}},
			BatchNumber:  2,
			TotalBatches: 25,
		})
		require.NoError(t, err)

		var fields map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(b, &fields))
		require.Contains(t, fields, "type")
		require.Contains(t, fields, "history")
		require.Contains(t, fields, "batchNumber")
		require.Contains(t, fields, "totalBatches")
		require.NotContains(t, fields, "message")
		require.NotContains(t, fields, "messages")

		var record map[string]json.RawMessage
		var records []json.RawMessage
		require.NoError(t, json.Unmarshal(fields["history"], &records))
		require.Len(t, records, 1)
		require.NoError(t, json.Unmarshal(records[0], &record))
		require.Contains(t, record, "url")
		require.Contains(t, record, "title")
		require.Contains(t, record, "visit_count")
		require.Contains(t, record, "last_visit_time")
	})

	t.Run("ServerMessages", func(t *testing.T) {
		t.Parallel()

		var ack retracesdk.ServerMessage
		err := json.Unmarshal([]byte(`{"type":"history_batch_ack","received":500,"total":1000,"warning":"approaching limit"}`), &ack)
		require.NoError(t, err)
		require.Equal(t, retracesdk.MessageTypeHistoryBatchAck, ack.Type)
		require.Equal(t, 500, ack.Received)
		require.Equal(t, 1000, ack.Total)
		require.Equal(t, "approaching limit", ack.Warning)

		var complete retracesdk.ServerMessage
		err = json.Unmarshal([]byte(`{"type":"history_upload_complete_ack","totalHistoryEntries":12345,"totalHistoryReceived":12345}`), &complete)
		require.NoError(t, err)
		require.Equal(t, retracesdk.MessageTypeUploadCompleteAck, complete.Type)
		require.Equal(t, 12345, complete.TotalHistoryEntries)
		require.Equal(t, 12345, complete.TotalHistoryReceived)
	})
}
