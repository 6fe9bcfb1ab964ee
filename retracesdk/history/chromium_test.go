package history_test

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/retracehq/retrace/retracesdk/history"
	"github.com/retracehq/retrace/testutil"
)

func webkitMicros(t time.Time) int64 {
	return (t.UnixMilli() + 11_644_473_600_000) * 1000
}

// writeChromiumFixture creates a History database with the urls table layout
// Chromium uses and returns its path.
func writeChromiumFixture(t *testing.T, rows []fixtureRow) string {
	t.Helper()
	path := filepath.Join(testutil.TempDir(t), "History")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE urls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url LONGVARCHAR,
		title LONGVARCHAR,
		visit_count INTEGER DEFAULT 0 NOT NULL,
		typed_count INTEGER DEFAULT 0 NOT NULL,
		last_visit_time INTEGER NOT NULL,
		hidden INTEGER DEFAULT 0 NOT NULL
	)`)
	require.NoError(t, err)

	for _, row := range rows {
		_, err = db.Exec(
			`INSERT INTO urls (url, title, visit_count, last_visit_time, hidden) VALUES (?, ?, ?, ?, ?)`,
			row.url, row.title, row.visits, row.lastVisit, row.hidden,
		)
		require.NoError(t, err)
	}
	return path
}

type fixtureRow struct {
	url       string
	title     any // string or nil
	visits    int
	lastVisit int64 // WebKit microseconds
	hidden    int
}

func TestChromiumSource(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)

	newest := time.Date(2025, 7, 30, 9, 0, 0, 0, time.UTC)
	middle := newest.Add(-24 * time.Hour)
	oldest := newest.Add(-48 * time.Hour)

	path := writeChromiumFixture(t, []fixtureRow{
		{url: "https://golang.org", title: "The Go Programming Language", visits: 42, lastVisit: webkitMicros(newest)},
		{url: "https://rust-lang.org", title: "Rust", visits: 10, lastVisit: webkitMicros(middle)},
		{url: "https://news.example.com/article", title: nil, visits: 0, lastVisit: webkitMicros(oldest)},
		{url: "https://secret.example.com", title: "Hidden", visits: 3, lastVisit: webkitMicros(newest.Add(time.Hour)), hidden: 1},
		{url: "https://never.example.com", title: "Never visited", visits: 0, lastVisit: 0},
	})
	src, err := history.OpenChromium(path)
	require.NoError(t, err)
	defer src.Close()

	t.Run("All", func(t *testing.T) {
		entries, err := src.Query(ctx, history.Query{})
		require.NoError(t, err)
		require.Len(t, entries, 3, "hidden and never-visited rows are excluded")

		require.Equal(t, "https://golang.org", entries[0].URL)
		require.Equal(t, "The Go Programming Language", entries[0].Title)
		require.Equal(t, 42, entries[0].VisitCount)
		require.Equal(t, newest.UnixMilli(), entries[0].LastVisitTime)

		require.Equal(t, "https://rust-lang.org", entries[1].URL)
		require.Equal(t, middle.UnixMilli(), entries[1].LastVisitTime)

		// A NULL title maps to the empty-string default.
		require.Equal(t, "https://news.example.com/article", entries[2].URL)
		require.Empty(t, entries[2].Title)
		require.Zero(t, entries[2].VisitCount)
	})

	t.Run("TextFilter", func(t *testing.T) {
		entries, err := src.Query(ctx, history.Query{Text: "go"})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, "https://golang.org", entries[0].URL)
	})

	t.Run("Window", func(t *testing.T) {
		entries, err := src.Query(ctx, history.Query{Start: middle, End: newest})
		require.NoError(t, err)
		require.Len(t, entries, 1, "start is inclusive, end exclusive")
		require.Equal(t, "https://rust-lang.org", entries[0].URL)
	})

	t.Run("MaxResults", func(t *testing.T) {
		entries, err := src.Query(ctx, history.Query{MaxResults: 1})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, "https://golang.org", entries[0].URL)
	})
}

func TestOpenChromium_Missing(t *testing.T) {
	t.Parallel()

	_, err := history.OpenChromium(filepath.Join(testutil.TempDir(t), "History"))
	require.Error(t, err)
}
