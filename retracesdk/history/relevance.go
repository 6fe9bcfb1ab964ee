package history

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/retracehq/retrace/retracesdk"
)

// Common words carrying little meaning for matching.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
	"from": {}, "up": {}, "about": {}, "into": {}, "through": {}, "during": {},
	"i": {}, "me": {}, "my": {}, "you": {}, "your": {}, "we": {}, "us": {},
	"our": {}, "they": {}, "them": {}, "their": {},
	"is": {}, "am": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"being": {},
	"have": {}, "has": {}, "had": {}, "do": {}, "does": {}, "did": {},
	"will": {}, "would": {}, "could": {}, "should": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "what": {}, "when": {},
	"where": {}, "who": {}, "which": {}, "how": {},
}

// Keywords extracts matching terms from free text: lowercased, stripped of
// non-alphanumeric characters, with stop words and words of two characters
// or fewer dropped.
func Keywords(text string) []string {
	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, word)
		if len(word) <= 2 {
			continue
		}
		if _, ok := stopWords[word]; ok {
			continue
		}
		keywords = append(keywords, word)
	}
	return keywords
}

// Score rates an entry against keywords: 3.0 per title hit, 2.0 per URL
// hit, a logarithmic visit-count bonus, and a recency bonus of 2/1/0.5 for
// entries visited within a day/week/month of now.
func Score(entry retracesdk.HistoryEntry, keywords []string, now time.Time) float64 {
	var score float64

	urlLower := strings.ToLower(entry.URL)
	titleLower := strings.ToLower(entry.Title)
	for _, keyword := range keywords {
		if strings.Contains(titleLower, keyword) {
			score += 3.0
		}
		if strings.Contains(urlLower, keyword) {
			score += 2.0
		}
	}

	if entry.VisitCount > 0 {
		score += math.Log(float64(entry.VisitCount)) * 0.5
	}

	daysOld := float64(now.UnixMilli()-entry.LastVisitTime) / (1000 * 60 * 60 * 24)
	switch {
	case daysOld < 1:
		score += 2.0
	case daysOld < 7:
		score += 1.0
	case daysOld < 30:
		score += 0.5
	}

	return score
}

// Rank filters set to entries matching the query's keywords and orders them
// by score descending. A query without usable keywords ranks the whole set
// by visit count, then recency.
func Rank(set retracesdk.RecordSet, query string, now time.Time) retracesdk.RecordSet {
	keywords := Keywords(query)
	if len(keywords) == 0 {
		ranked := make(retracesdk.RecordSet, len(set))
		copy(ranked, set)
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].VisitCount != ranked[j].VisitCount {
				return ranked[i].VisitCount > ranked[j].VisitCount
			}
			return ranked[i].LastVisitTime > ranked[j].LastVisitTime
		})
		return ranked
	}

	type scoredEntry struct {
		entry retracesdk.HistoryEntry
		score float64
	}
	var scored []scoredEntry
	for _, entry := range set {
		urlLower := strings.ToLower(entry.URL)
		titleLower := strings.ToLower(entry.Title)
		for _, keyword := range keywords {
			if strings.Contains(urlLower, keyword) || strings.Contains(titleLower, keyword) {
				scored = append(scored, scoredEntry{entry: entry, score: Score(entry, keywords, now)})
				break
			}
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	ranked := make(retracesdk.RecordSet, len(scored))
	for i, s := range scored {
		ranked[i] = s.entry
	}
	return ranked
}

// Domain extracts the host portion of a URL, or returns the URL unchanged
// when it has no scheme.
func Domain(rawURL string) string {
	start := strings.Index(rawURL, "://")
	if start < 0 {
		return rawURL
	}
	afterScheme := rawURL[start+3:]
	if end := strings.Index(afterScheme, "/"); end >= 0 {
		return afterScheme[:end]
	}
	return afterScheme
}

// DomainStat aggregates one domain's presence in a record set.
type DomainStat struct {
	Domain      string `json:"domain"`
	EntryCount  int    `json:"entry_count"`
	TotalVisits int    `json:"total_visits"`
}

// DomainStats returns the top 20 domains of the set by total visits.
func DomainStats(set retracesdk.RecordSet) []DomainStat {
	byDomain := make(map[string]*DomainStat)
	for _, entry := range set {
		domain := Domain(entry.URL)
		stat, ok := byDomain[domain]
		if !ok {
			stat = &DomainStat{Domain: domain}
			byDomain[domain] = stat
		}
		stat.EntryCount++
		stat.TotalVisits += entry.VisitCount
	}

	stats := make([]DomainStat, 0, len(byDomain))
	for _, stat := range byDomain {
		stats = append(stats, *stat)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].TotalVisits != stats[j].TotalVisits {
			return stats[i].TotalVisits > stats[j].TotalVisits
		}
		return stats[i].Domain < stats[j].Domain
	})
	if len(stats) > 20 {
		stats = stats[:20]
	}
	return stats
}
