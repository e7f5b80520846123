package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ktauchathuranga/notebud-sub000/internal/auth"
	"github.com/ktauchathuranga/notebud-sub000/internal/metrics"
	"github.com/ktauchathuranga/notebud-sub000/internal/store"
)

// Session is the dispatcher's view of one connection. The transport
// implements it; tests substitute a fake.
type Session interface {
	ConnID() uint64
	UserID() string
	Username() string
	Bind(userID, username string)
	// Send queues a JSON-encodable message for delivery. It reports
	// false when the connection is gone or its queue is full.
	Send(v any) bool
}

// Peers maps authenticated user ids to live sessions. Binding the same
// user id twice silently supersedes the earlier session.
type Peers interface {
	Bind(userID string, s Session)
	Unbind(userID string, s Session)
	Lookup(userID string) (Session, bool)
}

// Dispatcher routes decoded client messages to store and peer actions.
// All methods run on the single dispatch worker, so handlers for
// store-backed actions execute in global arrival order.
type Dispatcher struct {
	store        store.Store
	verifier     auth.Verifier
	peers        Peers
	historyLimit int
	log          zerolog.Logger
	now          func() time.Time
}

func NewDispatcher(st store.Store, verifier auth.Verifier, peers Peers, historyLimit int, log zerolog.Logger) *Dispatcher {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Dispatcher{
		store:        st,
		verifier:     verifier,
		peers:        peers,
		historyLimit: historyLimit,
		log:          log.With().Str("component", "dispatcher").Logger(),
		now:          time.Now,
	}
}

// Dispatch handles one decoded message from sess.
func (d *Dispatcher) Dispatch(ctx context.Context, sess Session, env *Envelope) {
	switch env.Type {
	case TypeAuth:
		d.handleAuth(ctx, sess, env)
	case TypeSendChatRequest:
		d.handleSendChatRequest(ctx, sess, env)
	case TypeAcceptChatRequest:
		d.handleAcceptChatRequest(ctx, sess, env)
	case TypeDeclineChatRequest:
		d.handleDeclineChatRequest(ctx, sess, env)
	case TypeSendMessage:
		d.handleSendMessage(ctx, sess, env)
	case TypeGetChatRequests:
		d.handleGetChatRequests(ctx, sess)
	case TypeGetActiveChats:
		d.handleGetActiveChats(ctx, sess)
	case TypeGetChatMessages:
		d.handleGetChatMessages(ctx, sess, env)
	default:
		d.log.Debug().Uint64("conn_id", sess.ConnID()).Str("type", env.Type).Msg("unknown message type")
	}
}

// Disconnected tears down the protocol state of a closing session. It
// unbinds the user only when sess still owns the binding, so a stale
// connection closing after a re-login does not evict the new one.
func (d *Dispatcher) Disconnected(ctx context.Context, sess Session) {
	userID := sess.UserID()
	if userID == "" {
		return
	}
	current, ok := d.peers.Lookup(userID)
	d.peers.Unbind(userID, sess)
	if !ok || current.ConnID() != sess.ConnID() {
		return
	}
	if err := d.store.SetPresence(ctx, userID, false); err != nil {
		metrics.StoreErrors.WithLabelValues("set_presence").Inc()
		d.log.Warn().Err(err).Str("user_id", userID).Msg("presence update on disconnect failed")
	}
}

func (d *Dispatcher) handleAuth(ctx context.Context, sess Session, env *Envelope) {
	if env.Token == "" {
		metrics.AuthFailures.Inc()
		sess.Send(Error("No token provided"))
		return
	}
	claims, err := d.verifier.Verify(env.Token)
	if err != nil {
		metrics.AuthFailures.Inc()
		sess.Send(Error("Invalid token"))
		return
	}
	user, err := d.store.FindUserByID(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		metrics.AuthFailures.Inc()
		sess.Send(Error("User not found"))
		return
	}
	if err != nil {
		metrics.AuthFailures.Inc()
		metrics.StoreErrors.WithLabelValues("find_user").Inc()
		d.log.Error().Err(err).Str("user_id", claims.UserID).Msg("auth lookup failed")
		sess.Send(Error("Authentication failed"))
		return
	}

	sess.Bind(user.ID, user.Username)
	d.peers.Bind(user.ID, sess)
	if err := d.store.SetPresence(ctx, user.ID, true); err != nil {
		metrics.StoreErrors.WithLabelValues("set_presence").Inc()
		d.log.Warn().Err(err).Str("user_id", user.ID).Msg("presence update on auth failed")
	}

	sess.Send(AuthSuccess{Type: "auth_success", UserID: user.ID, Username: user.Username})
	d.log.Info().Uint64("conn_id", sess.ConnID()).Str("user_id", user.ID).Str("username", user.Username).Msg("authenticated")
}

func (d *Dispatcher) handleSendChatRequest(ctx context.Context, sess Session, env *Envelope) {
	if sess.UserID() == "" || env.ToUsername == "" {
		sess.Send(Error("Invalid request"))
		return
	}
	target, err := d.store.FindUserByName(ctx, env.ToUsername)
	if errors.Is(err, store.ErrNotFound) {
		sess.Send(Error("User not found"))
		return
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("find_user").Inc()
		d.log.Error().Err(err).Str("to_username", env.ToUsername).Msg("target lookup failed")
		sess.Send(Error("Failed to send chat request"))
		return
	}

	_, err = d.store.FindPendingRequest(ctx, sess.UserID(), target.ID)
	if err == nil {
		sess.Send(Error("Chat request already sent"))
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		metrics.StoreErrors.WithLabelValues("find_request").Inc()
		d.log.Error().Err(err).Msg("pending request lookup failed")
		sess.Send(Error("Failed to send chat request"))
		return
	}

	req := &store.ChatRequest{
		FromUserID:   sess.UserID(),
		ToUserID:     target.ID,
		FromUsername: sess.Username(),
		ToUsername:   target.Username,
		Status:       store.StatusPending,
		CreatedAt:    d.now(),
	}
	if err := d.store.CreateRequest(ctx, req); err != nil {
		metrics.StoreErrors.WithLabelValues("create_request").Inc()
		d.log.Error().Err(err).Msg("create request failed")
		sess.Send(Error("Failed to send chat request"))
		return
	}

	if peer, ok := d.peers.Lookup(target.ID); ok {
		peer.Send(NewChatRequest{Type: "new_chat_request", FromUsername: sess.Username(), FromUserID: sess.UserID()})
	}
	sess.Send(ChatRequestSent{Type: "chat_request_sent", ToUsername: target.Username})
}

func (d *Dispatcher) handleAcceptChatRequest(ctx context.Context, sess Session, env *Envelope) {
	if sess.UserID() == "" || env.FromUserID == "" {
		return
	}
	err := d.store.UpdateRequestStatus(ctx, env.FromUserID, sess.UserID(), store.StatusAccepted)
	if errors.Is(err, store.ErrNotFound) {
		sess.Send(Error("No pending chat request"))
		return
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("update_request").Inc()
		d.log.Error().Err(err).Msg("accept request failed")
		sess.Send(Error("Failed to accept chat request"))
		return
	}

	room := &store.Room{
		ChatID:        uuid.NewString(),
		Participants:  [2]string{env.FromUserID, sess.UserID()},
		CreatedAt:     d.now(),
		LastMessageAt: d.now(),
	}
	if err := d.store.CreateRoom(ctx, room); err != nil {
		metrics.StoreErrors.WithLabelValues("create_room").Inc()
		d.log.Error().Err(err).Msg("create room failed")
		sess.Send(Error("Failed to accept chat request"))
		return
	}

	withUser := d.usernameOf(ctx, env.FromUserID)
	sess.Send(ChatAccepted{Type: "chat_accepted", ChatID: room.ChatID, WithUser: withUser})
	if peer, ok := d.peers.Lookup(env.FromUserID); ok {
		peer.Send(ChatAccepted{Type: "chat_accepted", ChatID: room.ChatID, WithUser: sess.Username()})
	}
}

func (d *Dispatcher) handleDeclineChatRequest(ctx context.Context, sess Session, env *Envelope) {
	if sess.UserID() == "" || env.FromUserID == "" {
		return
	}
	err := d.store.UpdateRequestStatus(ctx, env.FromUserID, sess.UserID(), store.StatusDeclined)
	if errors.Is(err, store.ErrNotFound) {
		sess.Send(Error("No pending chat request"))
		return
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("update_request").Inc()
		d.log.Error().Err(err).Msg("decline request failed")
		sess.Send(Error("Failed to decline chat request"))
		return
	}
	if peer, ok := d.peers.Lookup(env.FromUserID); ok {
		peer.Send(ChatDeclined{Type: "chat_declined", ByUser: sess.Username()})
	}
}

func (d *Dispatcher) handleSendMessage(ctx context.Context, sess Session, env *Envelope) {
	if sess.UserID() == "" || env.ChatID == "" || env.Message == "" {
		return
	}
	room, err := d.store.FindRoomByIDForParticipant(ctx, env.ChatID, sess.UserID())
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("find_room").Inc()
		d.log.Error().Err(err).Str("chat_id", env.ChatID).Msg("room lookup failed")
		sess.Send(Error("Failed to send message"))
		return
	}

	sentAt := d.now()
	msg := &store.Message{
		ChatID:       room.ChatID,
		FromUserID:   sess.UserID(),
		FromUsername: sess.Username(),
		Body:         env.Message,
		CreatedAt:    sentAt,
	}
	if err := d.store.AppendMessage(ctx, msg); err != nil {
		metrics.StoreErrors.WithLabelValues("append_message").Inc()
		d.log.Error().Err(err).Str("chat_id", env.ChatID).Msg("append message failed")
		sess.Send(Error("Failed to send message"))
		return
	}
	if err := d.store.TouchRoomLastMessage(ctx, room.ChatID, sentAt); err != nil {
		d.log.Warn().Err(err).Str("chat_id", room.ChatID).Msg("room touch failed")
	}

	out := NewMessage{
		Type:         "new_message",
		ChatID:       room.ChatID,
		FromUserID:   sess.UserID(),
		FromUsername: sess.Username(),
		Message:      env.Message,
		Timestamp:    sentAt.Unix(),
	}
	for _, participant := range room.Participants {
		if peer, ok := d.peers.Lookup(participant); ok {
			peer.Send(out)
		}
	}
}

func (d *Dispatcher) handleGetChatRequests(ctx context.Context, sess Session) {
	if sess.UserID() == "" {
		return
	}
	pending, err := d.store.PendingRequestsFor(ctx, sess.UserID())
	if err != nil {
		metrics.StoreErrors.WithLabelValues("list_requests").Inc()
		d.log.Error().Err(err).Msg("pending requests lookup failed")
		sess.Send(Error("Failed to get chat requests"))
		return
	}
	entries := make([]RequestEntry, 0, len(pending))
	for _, req := range pending {
		entries = append(entries, RequestEntry{
			FromUserID:   req.FromUserID,
			FromUsername: req.FromUsername,
			CreatedAt:    wireTime(req.CreatedAt),
		})
	}
	sess.Send(ChatRequests{Type: "chat_requests", Requests: entries})
}

func (d *Dispatcher) handleGetActiveChats(ctx context.Context, sess Session) {
	if sess.UserID() == "" {
		return
	}
	rooms, err := d.store.FindRoomsForUser(ctx, sess.UserID())
	if err != nil {
		metrics.StoreErrors.WithLabelValues("list_rooms").Inc()
		d.log.Error().Err(err).Msg("rooms lookup failed")
		sess.Send(Error("Failed to get active chats"))
		return
	}
	entries := make([]ChatEntry, 0, len(rooms))
	for _, room := range rooms {
		otherID := room.Other(sess.UserID())
		withUser := "Unknown"
		online := false
		if other, err := d.store.FindUserByID(ctx, otherID); err == nil {
			withUser = other.Username
			online = other.Online
		}
		entries = append(entries, ChatEntry{
			ChatID:        room.ChatID,
			WithUser:      withUser,
			WithUserID:    otherID,
			Online:        online,
			LastMessageAt: wireTime(room.LastMessageAt),
		})
	}
	sess.Send(ActiveChats{Type: "active_chats", Chats: entries})
}

func (d *Dispatcher) handleGetChatMessages(ctx context.Context, sess Session, env *Envelope) {
	if sess.UserID() == "" || env.ChatID == "" {
		return
	}
	room, err := d.store.FindRoomByIDForParticipant(ctx, env.ChatID, sess.UserID())
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("find_room").Inc()
		d.log.Error().Err(err).Str("chat_id", env.ChatID).Msg("room lookup failed")
		sess.Send(Error("Failed to get chat messages"))
		return
	}

	msgs, err := d.store.ListMessages(ctx, room.ChatID, d.historyLimit)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("list_messages").Inc()
		d.log.Error().Err(err).Str("chat_id", room.ChatID).Msg("history lookup failed")
		sess.Send(Error("Failed to get chat messages"))
		return
	}
	entries := make([]MessageEntry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, MessageEntry{
			FromUserID:   msg.FromUserID,
			FromUsername: msg.FromUsername,
			Message:      msg.Body,
			Timestamp:    wireTime(msg.CreatedAt),
		})
	}
	sess.Send(ChatMessages{Type: "chat_messages", ChatID: room.ChatID, Messages: entries})
}

func (d *Dispatcher) usernameOf(ctx context.Context, userID string) string {
	user, err := d.store.FindUserByID(ctx, userID)
	if err != nil {
		return "Unknown"
	}
	return user.Username
}
