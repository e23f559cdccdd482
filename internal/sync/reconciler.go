package sync

import (
	"github.com/brunakemp/juschat/internal/rest"
	"github.com/brunakemp/juschat/internal/store"
)

// matchWindowMillis bounds how far apart an optimistic row and its server
// echo may sit in time and still be considered the same message when the
// backend does not echo the client reference.
const matchWindowMillis = 30_000

// pendingRow is the slice of a pending local message the reconciler needs.
type pendingRow struct {
	MsgID     string
	SenderID  string
	Body      string
	CreatedAt int64
}

// reconcile finds the optimistic local row confirmed by a server message,
// if any. Exact client-reference echo wins; otherwise an own message with
// identical body inside the match window is taken as the echo. Returns ""
// when no pending row matches.
func reconcile(msg *rest.Message, pending []pendingRow, selfID string) string {
	if msg.ClientRef != "" {
		for _, p := range pending {
			if p.MsgID == msg.ClientRef {
				return p.MsgID
			}
		}
	}
	if msg.SenderID != selfID {
		return ""
	}
	serverAt := msg.CreatedAt.UnixMilli()
	for _, p := range pending {
		if p.Body != msg.Text {
			continue
		}
		delta := serverAt - p.CreatedAt
		if delta < 0 {
			delta = -delta
		}
		if delta <= matchWindowMillis {
			return p.MsgID
		}
	}
	return ""
}

func removePending(pending []pendingRow, msgID string) []pendingRow {
	for i, p := range pending {
		if p.MsgID == msgID {
			return append(pending[:i], pending[i+1:]...)
		}
	}
	return pending
}

// snapshotPreview derives the conversation list preview from the newest
// message in a snapshot.
func snapshotPreview(m *store.Message) string {
	if m.Body != "" {
		if len(m.Body) > 100 {
			return m.Body[:100]
		}
		return m.Body
	}
	if len(m.Attachments) > 0 {
		return "[file] " + m.Attachments[0].Name
	}
	return ""
}
