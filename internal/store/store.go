// Package store holds the chat domain entities and the persistence
// interface the dispatcher calls. The server treats the store as an
// external collaborator: four logical collections (users, chat_requests,
// chats, chat_messages) behind a narrow set of operations.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// Request status values. A request transitions pending → accepted or
// pending → declined exactly once.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusDeclined = "declined"
)

// User is owned by the account service; the chat server reads it and
// updates only the presence fields.
type User struct {
	ID       string
	Username string
	Online   bool
	LastSeen time.Time
}

// ChatRequest is a pending invitation from one user to another.
type ChatRequest struct {
	FromUserID   string
	ToUserID     string
	FromUsername string
	ToUsername   string
	Status       string
	CreatedAt    time.Time
}

// Room is a two-participant chat session created when a request is accepted.
// Membership never changes after creation.
type Room struct {
	ChatID        string
	Participants  [2]string
	CreatedAt     time.Time
	LastMessageAt time.Time
}

// Other returns the participant that is not userID.
func (r *Room) Other(userID string) string {
	if r.Participants[0] == userID {
		return r.Participants[1]
	}
	return r.Participants[0]
}

// Message is one chat line, append-only, ordered by CreatedAt.
type Message struct {
	ChatID       string
	FromUserID   string
	FromUsername string
	Body         string
	CreatedAt    time.Time
}

// Store is the persistence surface consumed by the dispatcher. Lookup
// misses return ErrNotFound; any other error is a store fault the caller
// converts to an error reply or a logged no-op.
type Store interface {
	FindUserByName(ctx context.Context, username string) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)

	// SetPresence flips the online flag and stamps last_seen.
	SetPresence(ctx context.Context, userID string, online bool) error

	CreateRequest(ctx context.Context, req *ChatRequest) error
	FindPendingRequest(ctx context.Context, fromUserID, toUserID string) (*ChatRequest, error)

	// PendingRequestsFor lists pending requests addressed to userID,
	// oldest first.
	PendingRequestsFor(ctx context.Context, userID string) ([]*ChatRequest, error)

	// UpdateRequestStatus resolves a pending request. It only transitions
	// rows still in StatusPending; resolving an already-resolved (or
	// nonexistent) request returns ErrNotFound.
	UpdateRequestStatus(ctx context.Context, fromUserID, toUserID, status string) error

	CreateRoom(ctx context.Context, room *Room) error
	FindRoomsForUser(ctx context.Context, userID string) ([]*Room, error)

	// FindRoomByIDForParticipant returns the room only when userID is one
	// of its participants; ErrNotFound otherwise.
	FindRoomByIDForParticipant(ctx context.Context, chatID, userID string) (*Room, error)

	AppendMessage(ctx context.Context, msg *Message) error

	// ListMessages returns up to limit messages in created_at ascending order.
	ListMessages(ctx context.Context, chatID string, limit int) ([]*Message, error)

	TouchRoomLastMessage(ctx context.Context, chatID string, at time.Time) error
}
