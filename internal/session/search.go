package session

import (
	"sort"
	"strings"
	"time"
)

// excerptRadius is how many characters of context surround a match.
const excerptRadius = 40

// SearchResult is one message hit from SearchMessages.
type SearchResult struct {
	SessionID   string
	SessionName string
	Role        string
	Timestamp   time.Time
	Excerpt     string
}

// SearchMessages finds messages containing the query, case-insensitive,
// across all sessions. Results are ranked most recent first and capped at
// limit (0 means no cap). An empty query matches nothing.
func (r *Registry) SearchMessages(query string, limit int) []SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	needle := strings.ToLower(query)

	r.mu.RLock()
	var results []SearchResult
	for _, sess := range r.sessions {
		for _, msg := range sess.Messages {
			idx := strings.Index(strings.ToLower(msg.Content), needle)
			if idx < 0 {
				continue
			}
			results = append(results, SearchResult{
				SessionID:   sess.ID,
				SessionName: sess.Name,
				Role:        msg.Role,
				Timestamp:   msg.Timestamp,
				Excerpt:     excerpt(msg.Content, idx, len(query)),
			})
		}
	}
	r.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// excerpt cuts a window around the match, eliding trimmed ends.
func excerpt(content string, idx, matchLen int) string {
	start := idx - excerptRadius
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + excerptRadius
	if end > len(content) {
		end = len(content)
	}

	out := content[start:end]
	out = strings.ReplaceAll(out, "\n", " ")
	if start > 0 {
		out = "…" + out
	}
	if end < len(content) {
		out = out + "…"
	}
	return out
}
