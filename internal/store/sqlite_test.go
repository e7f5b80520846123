package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		os.Remove(path)
	})
	return s
}

func seedUsers(t *testing.T, s *SQLite, users map[string]string) {
	t.Helper()
	for id, name := range users {
		if err := s.CreateUser(context.Background(), id, name); err != nil {
			t.Fatalf("CreateUser(%s): %v", name, err)
		}
	}
}

func TestUserLookupAndPresence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUsers(t, s, map[string]string{"u1": "alice"})

	u, err := s.FindUserByName(ctx, "alice")
	if err != nil {
		t.Fatalf("FindUserByName: %v", err)
	}
	if u.ID != "u1" || u.Online {
		t.Errorf("unexpected user %+v", u)
	}

	if _, err := s.FindUserByName(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.SetPresence(ctx, "u1", true); err != nil {
		t.Fatalf("SetPresence: %v", err)
	}
	u, err = s.FindUserByID(ctx, "u1")
	if err != nil {
		t.Fatalf("FindUserByID: %v", err)
	}
	if !u.Online {
		t.Error("user should be online")
	}
	if u.LastSeen.IsZero() {
		t.Error("last_seen not stamped")
	}

	if err := s.SetPresence(ctx, "u1", false); err != nil {
		t.Fatalf("SetPresence: %v", err)
	}
	u, _ = s.FindUserByID(ctx, "u1")
	if u.Online {
		t.Error("user should be offline")
	}
}

func TestRequestLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUsers(t, s, map[string]string{"u1": "alice", "u2": "bob"})

	req := &ChatRequest{
		FromUserID: "u1", ToUserID: "u2",
		FromUsername: "alice", ToUsername: "bob",
		Status: StatusPending, CreatedAt: time.Now(),
	}
	if err := s.CreateRequest(ctx, req); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	got, err := s.FindPendingRequest(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("FindPendingRequest: %v", err)
	}
	if got.FromUsername != "alice" || got.Status != StatusPending {
		t.Errorf("unexpected request %+v", got)
	}

	// Reverse direction has no pending request.
	if _, err := s.FindPendingRequest(ctx, "u2", "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for reverse pair, got %v", err)
	}

	pending, err := s.PendingRequestsFor(ctx, "u2")
	if err != nil {
		t.Fatalf("PendingRequestsFor: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(pending))
	}

	if err := s.UpdateRequestStatus(ctx, "u1", "u2", StatusAccepted); err != nil {
		t.Fatalf("UpdateRequestStatus: %v", err)
	}

	// A resolved request cannot transition again.
	if err := s.UpdateRequestStatus(ctx, "u1", "u2", StatusDeclined); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second transition, got %v", err)
	}

	if _, err := s.FindPendingRequest(ctx, "u1", "u2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("accepted request still pending: %v", err)
	}
}

func TestRoomsAndParticipants(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	room := &Room{
		ChatID:       "chat-1",
		Participants: [2]string{"u1", "u2"},
		CreatedAt:    now, LastMessageAt: now,
	}
	if err := s.CreateRoom(ctx, room); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	for _, uid := range []string{"u1", "u2"} {
		rooms, err := s.FindRoomsForUser(ctx, uid)
		if err != nil {
			t.Fatalf("FindRoomsForUser(%s): %v", uid, err)
		}
		if len(rooms) != 1 || rooms[0].ChatID != "chat-1" {
			t.Errorf("user %s: unexpected rooms %+v", uid, rooms)
		}
	}

	if _, err := s.FindRoomByIDForParticipant(ctx, "chat-1", "u1"); err != nil {
		t.Errorf("participant lookup failed: %v", err)
	}
	if _, err := s.FindRoomByIDForParticipant(ctx, "chat-1", "u3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("non-participant should get ErrNotFound, got %v", err)
	}

	if got := room.Other("u1"); got != "u2" {
		t.Errorf("Other(u1) = %q", got)
	}
}

func TestRoomOrderingByLastMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"chat-a", "chat-b", "chat-c"} {
		room := &Room{
			ChatID:       id,
			Participants: [2]string{"u1", "u2"},
			CreatedAt:    base, LastMessageAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateRoom(ctx, room); err != nil {
			t.Fatalf("CreateRoom(%s): %v", id, err)
		}
	}

	// Touch chat-a last; it should sort first.
	if err := s.TouchRoomLastMessage(ctx, "chat-a", time.Now()); err != nil {
		t.Fatalf("TouchRoomLastMessage: %v", err)
	}

	rooms, err := s.FindRoomsForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("FindRoomsForUser: %v", err)
	}
	if len(rooms) != 3 || rooms[0].ChatID != "chat-a" {
		t.Errorf("expected chat-a first, got %v", rooms[0].ChatID)
	}
}

func TestMessagesAscendingWithLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	bodies := []string{"first", "second", "third"}
	for i, body := range bodies {
		msg := &Message{
			ChatID: "chat-1", FromUserID: "u1", FromUsername: "alice",
			Body: body, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage(%s): %v", body, err)
		}
	}

	msgs, err := s.ListMessages(ctx, "chat-1", 100)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, body := range bodies {
		if msgs[i].Body != body {
			t.Errorf("message %d = %q, want %q", i, msgs[i].Body, body)
		}
	}

	limited, err := s.ListMessages(ctx, "chat-1", 2)
	if err != nil {
		t.Fatalf("ListMessages limited: %v", err)
	}
	if len(limited) != 2 || limited[0].Body != "first" {
		t.Errorf("limit returned wrong slice: %+v", limited)
	}
}

func TestMessagesSubSecondOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// RFC3339Nano trims trailing zeros, so ".5Z" sorts after ".5123Z" as
	// a string even though it is earlier. Insertion order must win.
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	stamps := []struct {
		body string
		at   time.Time
	}{
		{"first", base.Add(500 * time.Millisecond)},
		{"second", base.Add(512300 * time.Microsecond)},
	}
	for _, m := range stamps {
		msg := &Message{
			ChatID: "chat-1", FromUserID: "u1", FromUsername: "alice",
			Body: m.body, CreatedAt: m.at,
		}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage(%s): %v", m.body, err)
		}
	}

	msgs, err := s.ListMessages(ctx, "chat-1", 100)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Body != "first" || msgs[1].Body != "second" {
		t.Fatalf("sub-second messages out of order: %+v", msgs)
	}
}

func TestPendingRequestsSameSecondOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedUsers(t, s, map[string]string{"u1": "alice", "u2": "bob", "u3": "carol", "u4": "dave"})

	// Same-second timestamps: insertion order must be the tiebreak.
	at := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	for _, from := range []string{"u2", "u3", "u4"} {
		req := &ChatRequest{
			FromUserID: from, ToUserID: "u1",
			FromUsername: from, ToUsername: "alice",
			Status: StatusPending, CreatedAt: at,
		}
		if err := s.CreateRequest(ctx, req); err != nil {
			t.Fatalf("CreateRequest(%s): %v", from, err)
		}
	}

	pending, err := s.PendingRequestsFor(ctx, "u1")
	if err != nil {
		t.Fatalf("PendingRequestsFor: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending requests, got %d", len(pending))
	}
	for i, from := range []string{"u2", "u3", "u4"} {
		if pending[i].FromUserID != from {
			t.Errorf("request %d from %q, want %q", i, pending[i].FromUserID, from)
		}
	}
}
