// Package chat implements the application protocol layered on top of the
// WebSocket transport: the JSON message catalog and the dispatcher that
// routes decoded client messages to domain actions.
package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client → server message types.
const (
	TypeAuth               = "auth"
	TypeSendChatRequest    = "send_chat_request"
	TypeAcceptChatRequest  = "accept_chat_request"
	TypeDeclineChatRequest = "decline_chat_request"
	TypeSendMessage        = "send_message"
	TypeGetChatRequests    = "get_chat_requests"
	TypeGetActiveChats     = "get_active_chats"
	TypeGetChatMessages    = "get_chat_messages"
)

// Envelope is the decoded form of every inbound message. The catalog is
// flat enough that one struct covers all types; Decode parses it once at
// the boundary and the dispatcher switches on Type.
type Envelope struct {
	Type       string `json:"type"`
	Token      string `json:"token,omitempty"`
	ToUsername string `json:"to_username,omitempty"`
	FromUserID string `json:"from_user_id,omitempty"`
	ChatID     string `json:"chat_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Decode parses a text-frame payload into an Envelope.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode message: missing type")
	}
	return &env, nil
}

// Server → client messages. Each variant carries its own type tag so a
// value can be handed straight to the JSON encoder.

type ErrorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func Error(message string) ErrorReply {
	return ErrorReply{Type: "error", Message: message}
}

type AuthSuccess struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type NewChatRequest struct {
	Type         string `json:"type"`
	FromUsername string `json:"from_username"`
	FromUserID   string `json:"from_user_id"`
}

type ChatRequestSent struct {
	Type       string `json:"type"`
	ToUsername string `json:"to_username"`
}

type ChatAccepted struct {
	Type     string `json:"type"`
	ChatID   string `json:"chat_id"`
	WithUser string `json:"with_user"`
}

type ChatDeclined struct {
	Type   string `json:"type"`
	ByUser string `json:"by_user"`
}

type NewMessage struct {
	Type         string `json:"type"`
	ChatID       string `json:"chat_id"`
	FromUserID   string `json:"from_user_id"`
	FromUsername string `json:"from_username"`
	Message      string `json:"message"`
	// Live delivery stamps Unix seconds; history entries carry RFC3339.
	// The web client accepts both and the asymmetry predates this server.
	Timestamp int64 `json:"timestamp"`
}

type RequestEntry struct {
	FromUserID   string `json:"from_user_id"`
	FromUsername string `json:"from_username"`
	CreatedAt    string `json:"created_at"`
}

type ChatRequests struct {
	Type     string         `json:"type"`
	Requests []RequestEntry `json:"requests"`
}

type ChatEntry struct {
	ChatID        string `json:"chat_id"`
	WithUser      string `json:"with_user"`
	WithUserID    string `json:"with_user_id"`
	Online        bool   `json:"online"`
	LastMessageAt string `json:"last_message_at"`
}

type ActiveChats struct {
	Type  string      `json:"type"`
	Chats []ChatEntry `json:"chats"`
}

type MessageEntry struct {
	FromUserID   string `json:"from_user_id"`
	FromUsername string `json:"from_username"`
	Message      string `json:"message"`
	Timestamp    string `json:"timestamp"`
}

type ChatMessages struct {
	Type     string         `json:"type"`
	ChatID   string         `json:"chat_id"`
	Messages []MessageEntry `json:"messages"`
}

// wireTime renders history timestamps the same way the HTTP side does.
func wireTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
