package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/retracehq/retrace/retracesdk"
)

// Request is one chat turn to answer with the session's uploaded history as
// context.
type Request struct {
	// Message is the user's current question.
	Message string
	// Conversation carries prior turns, oldest first.
	Conversation []retracesdk.ChatMessage
	// History is the record set the session accumulated.
	History retracesdk.RecordSet
}

// Client answers chat requests grounded in browsing history.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Entries past this count are summarized to keep prompts within model token
// limits.
const promptHistoryLimit = 50

// FormatHistory renders a record set as readable prompt context.
func FormatHistory(entries retracesdk.RecordSet) string {
	if len(entries) == 0 {
		return "No browsing history available."
	}

	var builder strings.Builder
	builder.WriteString("Recent browsing history:\n\n")
	for i, entry := range entries {
		if i >= promptHistoryLimit {
			fmt.Fprintf(&builder, "\n... and %d more entries", len(entries)-promptHistoryLimit)
			break
		}
		timestamp := time.Unix(entry.LastVisitTime/1000, 0).Format("2006-01-02 15:04")
		fmt.Fprintf(&builder, "%d. %s\n", i+1, entry.Title)
		fmt.Fprintf(&builder, "   URL: %s\n", entry.URL)
		fmt.Fprintf(&builder, "   Last visited: %s (visited %d times)\n\n", timestamp, entry.VisitCount)
	}
	return builder.String()
}

func systemPrompt(historyContext string) string {
	return fmt.Sprintf(`You are a helpful assistant that helps users understand and explore their browser history.

%s

Please answer the user's question based on this browsing history. Be concise and helpful. If the history doesn't contain relevant information, let the user know.`, historyContext)
}
