package session

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestExportJSON(t *testing.T) {
	reg, repoID := newTestRegistry(t)
	sess, _ := reg.Create(ctx, CreateOptions{RepoIDs: []string{repoID}})
	reg.AppendMessage(sess.ID, "user", "hello")

	data := reg.Export(sess.ID, ExportJSON)
	if data == nil {
		t.Fatal("Export returned nil")
	}

	var decoded Session
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.ID != sess.ID {
		t.Errorf("ID = %q", decoded.ID)
	}
	if len(decoded.Messages) != 1 || decoded.Messages[0].Content != "hello" {
		t.Errorf("messages = %+v", decoded.Messages)
	}
	// Unset bookmark time stays out of the payload.
	if strings.Contains(string(data), "bookmarked_at") {
		t.Error("zero bookmark timestamp serialized")
	}
}

func TestExportText(t *testing.T) {
	reg, repoID := newTestRegistry(t)
	sess, _ := reg.Create(ctx, CreateOptions{RepoIDs: []string{repoID}})
	reg.Rename(sess.ID, "my session")
	reg.AppendMessage(sess.ID, "user", "do the thing")
	reg.AppendMessage(sess.ID, "assistant", "done")

	out := string(reg.Export(sess.ID, ExportText))
	for _, want := range []string{"Session: my session", repoID, "user:", "do the thing", "assistant:", "done"} {
		if !strings.Contains(out, want) {
			t.Errorf("text export missing %q:\n%s", want, out)
		}
	}
}

func TestExport_UnknownOrBadFormat(t *testing.T) {
	reg, repoID := newTestRegistry(t)
	sess, _ := reg.Create(ctx, CreateOptions{RepoIDs: []string{repoID}})

	if got := reg.Export("missing", ExportText); got != nil {
		t.Errorf("unknown id exported %d bytes", len(got))
	}
	if got := reg.Export(sess.ID, "xml"); got != nil {
		t.Errorf("unsupported format exported %d bytes", len(got))
	}
}
