package sync

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/brunakemp/juschat/internal/bus"
	"github.com/brunakemp/juschat/internal/rest"
	"github.com/brunakemp/juschat/internal/store"
	"go.uber.org/zap"
)

const selfID = "user-1"

func newTestEngine(t *testing.T) (*Engine, *store.DB, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.UpsertConversation(&store.Conversation{
		ID: "c1", ParticipantID: "lawyer-1", ParticipantName: "Dra. Ana",
	}); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	b := bus.New()
	return NewEngine(db, b, zap.NewNop()), db, b
}

func at(hhmm string) time.Time {
	ts, err := time.Parse(time.RFC3339, "2026-09-01T"+hhmm+":00Z")
	if err != nil {
		panic(err)
	}
	return ts
}

func wireMsg(id, sender, text string, ts time.Time) rest.Message {
	return rest.Message{
		ID: id, ConversationID: "c1", SenderID: sender,
		Text: text, Status: "sent", CreatedAt: ts,
	}
}

func TestApplySnapshotBasicMerge(t *testing.T) {
	e, db, _ := newTestEngine(t)

	res, err := e.ApplySnapshot("c1", []rest.Message{
		wireMsg("m1", "lawyer-1", "hello", at("10:00")),
		wireMsg("m2", selfID, "hi there", at("10:05")),
	}, selfID)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Upserted != 2 || res.Removed != 0 || res.Reconciled != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	msgs, err := db.ListMessages("c1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].MsgID != "m1" || msgs[1].MsgID != "m2" {
		t.Fatalf("wrong order: %s, %s", msgs[0].MsgID, msgs[1].MsgID)
	}
	if !msgs[1].FromMe {
		t.Fatalf("m2 should be own message")
	}
}

func TestApplySnapshotIsIdempotent(t *testing.T) {
	e, db, _ := newTestEngine(t)

	snap := []rest.Message{wireMsg("m1", "lawyer-1", "hello", at("10:00"))}
	for i := 0; i < 3; i++ {
		if _, err := e.ApplySnapshot("c1", snap, selfID); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	count, err := db.MessageCount()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 message after repeated merges, got %d", count)
	}
}

// An optimistic row the server has not echoed yet must survive a poll that
// does not contain it, and sort after confirmed messages.
func TestApplySnapshotPreservesOptimisticSend(t *testing.T) {
	e, db, _ := newTestEngine(t)

	if _, err := e.ApplySnapshot("c1", []rest.Message{
		wireMsg("m1", "lawyer-1", "hello", at("10:00")),
		wireMsg("m2", selfID, "hi there", at("10:05")),
	}, selfID); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if err := db.InsertPendingMessage(&store.Message{
		ConversationID: "c1", MsgID: "tmp1", SenderID: selfID,
		Body: "can we talk tomorrow?", FromMe: true,
		CreatedAt: at("10:06").UnixMilli(),
	}); err != nil {
		t.Fatalf("insert pending: %v", err)
	}

	// The next poll still only knows m1 and m2.
	res, err := e.ApplySnapshot("c1", []rest.Message{
		wireMsg("m1", "lawyer-1", "hello", at("10:00")),
		wireMsg("m2", selfID, "hi there", at("10:05")),
	}, selfID)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Retained != 1 {
		t.Fatalf("expected 1 retained optimistic row, got %d", res.Retained)
	}

	msgs, err := db.ListMessages("c1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[2].MsgID != "tmp1" || !msgs[2].Pending {
		t.Fatalf("optimistic row missing or not last: %+v", msgs[2])
	}
}

// When the server echoes the optimistic send, the temporary row is
// replaced by the confirmed one and no duplicate remains.
func TestApplySnapshotReconcilesEchoByBody(t *testing.T) {
	e, db, _ := newTestEngine(t)

	if _, err := e.ApplySnapshot("c1", []rest.Message{
		wireMsg("m1", "lawyer-1", "hello", at("10:00")),
		wireMsg("m2", selfID, "hi there", at("10:05")),
	}, selfID); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := db.InsertPendingMessage(&store.Message{
		ConversationID: "c1", MsgID: "tmp1", SenderID: selfID,
		Body: "can we talk tomorrow?", FromMe: true,
		CreatedAt: at("10:06").UnixMilli(),
	}); err != nil {
		t.Fatalf("insert pending: %v", err)
	}

	res, err := e.ApplySnapshot("c1", []rest.Message{
		wireMsg("m1", "lawyer-1", "hello", at("10:00")),
		wireMsg("m2", selfID, "hi there", at("10:05")),
		wireMsg("m3", selfID, "can we talk tomorrow?", at("10:06")),
	}, selfID)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Reconciled != 1 {
		t.Fatalf("expected 1 reconciled row, got %d", res.Reconciled)
	}

	msgs, err := db.ListMessages("c1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[2].MsgID != "m3" || msgs[2].Pending {
		t.Fatalf("echo not reconciled: %+v", msgs[2])
	}
	for _, m := range msgs {
		if m.MsgID == "tmp1" {
			t.Fatalf("temporary row survived reconciliation")
		}
	}
}

func TestApplySnapshotReconcilesEchoByClientRef(t *testing.T) {
	e, db, _ := newTestEngine(t)

	if err := db.InsertPendingMessage(&store.Message{
		ConversationID: "c1", MsgID: "tmp9", SenderID: selfID,
		Body: "original wording", FromMe: true,
		CreatedAt: at("10:00").UnixMilli(),
	}); err != nil {
		t.Fatalf("insert pending: %v", err)
	}

	// Backend normalized the text; only the client ref ties them together.
	echo := wireMsg("m7", selfID, "normalized wording", at("10:02"))
	echo.ClientRef = "tmp9"

	res, err := e.ApplySnapshot("c1", []rest.Message{echo}, selfID)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Reconciled != 1 {
		t.Fatalf("expected reconciliation via client ref, got %+v", res)
	}
	if m, _ := db.GetMessage("c1", "tmp9"); m != nil {
		t.Fatalf("temporary row survived")
	}
	if m, _ := db.GetMessage("c1", "m7"); m == nil {
		t.Fatalf("confirmed row missing")
	}
}

func TestApplySnapshotDoesNotMatchOutsideWindow(t *testing.T) {
	e, db, _ := newTestEngine(t)

	if err := db.InsertPendingMessage(&store.Message{
		ConversationID: "c1", MsgID: "tmp1", SenderID: selfID,
		Body: "ok", FromMe: true, CreatedAt: at("10:00").UnixMilli(),
	}); err != nil {
		t.Fatalf("insert pending: %v", err)
	}

	// Same body, but sent a day apart: a different "ok", not the echo.
	old := rest.Message{
		ID: "m1", ConversationID: "c1", SenderID: selfID, Text: "ok",
		Status: "sent", CreatedAt: at("10:00").AddDate(0, 0, -1),
	}
	res, err := e.ApplySnapshot("c1", []rest.Message{old}, selfID)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Reconciled != 0 || res.Retained != 1 {
		t.Fatalf("matched outside window: %+v", res)
	}
}

func TestApplySnapshotPrunesDeletedMessages(t *testing.T) {
	e, db, _ := newTestEngine(t)

	if _, err := e.ApplySnapshot("c1", []rest.Message{
		wireMsg("m1", "lawyer-1", "hello", at("10:00")),
		wireMsg("m2", selfID, "typo mesage", at("10:01")),
	}, selfID); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// m2 was deleted server-side between polls.
	res, err := e.ApplySnapshot("c1", []rest.Message{
		wireMsg("m1", "lawyer-1", "hello", at("10:00")),
	}, selfID)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Removed != 1 {
		t.Fatalf("expected 1 removed, got %d", res.Removed)
	}
	if m, _ := db.GetMessage("c1", "m2"); m != nil {
		t.Fatalf("deleted message still present")
	}
}

// A message confirmed while an older poll was still in flight must not be
// pruned when that poll's snapshot lands without it.
func TestApplySnapshotSparesSendsAckedMidPoll(t *testing.T) {
	e, db, _ := newTestEngine(t)

	if _, err := e.ApplySnapshot("c1", []rest.Message{
		wireMsg("m1", "lawyer-1", "hello", at("10:00")),
		wireMsg("m2", selfID, "hi there", at("10:05")),
	}, selfID); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// A poll for c1 goes out now...
	dispatched := time.Now()
	time.Sleep(5 * time.Millisecond)

	// ...and while it is in flight, a send completes: the optimistic row
	// is swapped for the confirmed m3, the way the outbox ack does it.
	if err := db.InsertPendingMessage(&store.Message{
		ConversationID: "c1", MsgID: "tmp1", SenderID: selfID,
		Body: "see you at 3", FromMe: true,
		CreatedAt: at("10:06").UnixMilli(),
	}); err != nil {
		t.Fatalf("insert pending: %v", err)
	}
	if err := db.DeleteMessage("c1", "tmp1"); err != nil {
		t.Fatalf("delete tmp: %v", err)
	}
	if err := db.UpsertMessage(&store.Message{
		ConversationID: "c1", MsgID: "m3", SenderID: selfID,
		Body: "see you at 3", Status: store.StatusSent, FromMe: true,
		CreatedAt: at("10:06").UnixMilli(),
	}); err != nil {
		t.Fatalf("upsert confirmed: %v", err)
	}

	// The stale snapshot lands, predating m3.
	res, err := e.ApplySnapshotAt("c1", []rest.Message{
		wireMsg("m1", "lawyer-1", "hello", at("10:00")),
		wireMsg("m2", selfID, "hi there", at("10:05")),
	}, selfID, dispatched)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Removed != 0 {
		t.Fatalf("expected 0 removed, got %d", res.Removed)
	}

	msgs, err := db.ListMessages("c1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 || msgs[2].MsgID != "m3" {
		t.Fatalf("messages = %+v, want [m1 m2 m3]", msgs)
	}
}

func TestApplySnapshotStatusNeverRegresses(t *testing.T) {
	e, db, _ := newTestEngine(t)

	read := wireMsg("m1", selfID, "hello", at("10:00"))
	read.Status = store.StatusRead
	if _, err := e.ApplySnapshot("c1", []rest.Message{read}, selfID); err != nil {
		t.Fatalf("apply: %v", err)
	}

	stale := wireMsg("m1", selfID, "hello", at("10:00"))
	stale.Status = store.StatusSent
	if _, err := e.ApplySnapshot("c1", []rest.Message{stale}, selfID); err != nil {
		t.Fatalf("apply: %v", err)
	}

	m, err := db.GetMessage("c1", "m1")
	if err != nil || m == nil {
		t.Fatalf("get: %v", err)
	}
	if m.Status != store.StatusRead {
		t.Fatalf("status regressed to %s", m.Status)
	}
}

func TestApplySnapshotUpdatesConversationPreview(t *testing.T) {
	e, db, _ := newTestEngine(t)

	if _, err := e.ApplySnapshot("c1", []rest.Message{
		wireMsg("m1", "lawyer-1", "hearing moved to friday", at("10:00")),
	}, selfID); err != nil {
		t.Fatalf("apply: %v", err)
	}

	c, err := db.GetConversation("c1")
	if err != nil || c == nil {
		t.Fatalf("get conversation: %v", err)
	}
	if c.LastMessagePreview != "hearing moved to friday" {
		t.Fatalf("preview not updated: %q", c.LastMessagePreview)
	}
	if c.LastMessageAt != at("10:00").UnixMilli() {
		t.Fatalf("last message timestamp not updated")
	}
}

func TestApplySnapshotPublishesEvent(t *testing.T) {
	e, _, b := newTestEngine(t)

	ch, unsub := b.Subscribe("message.", 8)
	defer unsub()

	if _, err := e.ApplySnapshot("c1", []rest.Message{
		wireMsg("m1", "lawyer-1", "hello", at("10:00")),
	}, selfID); err != nil {
		t.Fatalf("apply: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != "message.upserted" {
			t.Fatalf("unexpected event kind %s", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event published")
	}
}
