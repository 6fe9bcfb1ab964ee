package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/adrg/xdg"
	"golang.org/x/xerrors"

	_ "modernc.org/sqlite"

	"github.com/retracehq/retrace/retracesdk"
)

// Chromium stores timestamps as microseconds since 1601-01-01 (the WebKit
// epoch); this is the offset to the Unix epoch in milliseconds.
const webkitEpochOffsetMilli = 11_644_473_600_000

// ChromiumSource reads a Chromium-format History database and implements
// Source. The browser holds an exclusive lock on the live file while it
// runs, so callers typically point this at a copy.
type ChromiumSource struct {
	db *sql.DB
}

// OpenChromium opens the History database at path read-only.
func OpenChromium(path string) (*ChromiumSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, xerrors.Errorf("stat history database: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, xerrors.Errorf("open history database: %w", err)
	}
	return &ChromiumSource{db: db}, nil
}

func (s *ChromiumSource) Close() error {
	return s.db.Close()
}

// Query implements Source over the urls table. Rows whose timestamp does
// not convert to a positive Unix millisecond value are discarded.
func (s *ChromiumSource) Query(ctx context.Context, q Query) ([]retracesdk.HistoryEntry, error) {
	limit := q.MaxResults
	if limit <= 0 || limit > CallCap {
		limit = CallCap
	}

	var (
		where = []string{"hidden = 0", "last_visit_time > 0"}
		args  []any
	)
	if q.Text != "" {
		where = append(where, "(url LIKE ? OR title LIKE ?)")
		pattern := "%" + q.Text + "%"
		args = append(args, pattern, pattern)
	}
	if !q.Start.IsZero() {
		where = append(where, "last_visit_time >= ?")
		args = append(args, unixMilliToWebkit(q.Start.UnixMilli()))
	}
	if !q.End.IsZero() {
		where = append(where, "last_visit_time < ?")
		args = append(args, unixMilliToWebkit(q.End.UnixMilli()))
	}
	args = append(args, limit)

	//nolint:gosec // The query is assembled from fixed clauses; all values bind.
	query := `SELECT url, title, visit_count, last_visit_time FROM urls WHERE ` +
		strings.Join(where, " AND ") +
		` ORDER BY last_visit_time DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Errorf("query urls: %w", err)
	}
	defer rows.Close()

	var entries []retracesdk.HistoryEntry
	for rows.Next() {
		var (
			entry    retracesdk.HistoryEntry
			title    sql.NullString
			visits   sql.NullInt64
			webkitTS int64
		)
		err := rows.Scan(&entry.URL, &title, &visits, &webkitTS)
		if err != nil {
			return nil, xerrors.Errorf("scan url row: %w", err)
		}
		entry.Title = title.String
		if visits.Valid && visits.Int64 > 0 {
			entry.VisitCount = int(visits.Int64)
		}
		entry.LastVisitTime = webkitToUnixMilli(webkitTS)
		if !entry.Valid() {
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("iterate url rows: %w", err)
	}
	return entries, nil
}

func webkitToUnixMilli(webkitMicro int64) int64 {
	return webkitMicro/1000 - webkitEpochOffsetMilli
}

func unixMilliToWebkit(unixMilli int64) int64 {
	return (unixMilli + webkitEpochOffsetMilli) * 1000
}

// DefaultChromiumPath returns the conventional Chrome history path for the
// current platform. xdg.ConfigHome resolves to ~/Library/Application Support
// on macOS and %LOCALAPPDATA% on Windows, which is where Chrome keeps its
// profile.
func DefaultChromiumPath() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(xdg.ConfigHome, "Google", "Chrome", "Default", "History")
	case "windows":
		return filepath.Join(xdg.ConfigHome, "Google", "Chrome", "User Data", "Default", "History")
	default:
		return filepath.Join(xdg.ConfigHome, "google-chrome", "Default", "History")
	}
}
