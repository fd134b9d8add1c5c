package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Export formats to pass to Export.
const (
	ExportText = "text"
	ExportJSON = "json"
)

// Export renders a session's conversation for sharing. Returns nil for an
// unknown session id or an unsupported format.
func (r *Registry) Export(id, format string) []byte {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.RUnlock()
		return nil
	}
	snapshot := sess.clone()
	r.mu.RUnlock()

	switch format {
	case ExportJSON:
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return nil
		}
		return data
	case ExportText:
		return exportText(snapshot)
	default:
		return nil
	}
}

func exportText(sess *Session) []byte {
	var b strings.Builder

	title := sess.Name
	if title == "" {
		title = sess.ID
	}
	fmt.Fprintf(&b, "Session: %s\n", title)
	fmt.Fprintf(&b, "Repos: %s\n", strings.Join(sess.RepoIDs, ", "))
	if sess.Branch != "" {
		fmt.Fprintf(&b, "Branch: %s\n", sess.Branch)
	}
	fmt.Fprintf(&b, "Created: %s\n\n", sess.CreatedAt.Format("2006-01-02 15:04:05"))

	for _, msg := range sess.Messages {
		fmt.Fprintf(&b, "[%s] %s:\n%s\n\n", msg.Timestamp.Format("15:04:05"), msg.Role, msg.Content)
	}

	return []byte(b.String())
}
