package gateway

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/microcosm-cc/bluemonday"

	"backchannel/internal/ratelimit"
	"backchannel/internal/session"
	"backchannel/pkg/interfaces"
	"backchannel/pkg/types"
)

// decryptFailedPlaceholder replaces a message whose ciphertext no
// configured key opens. One bad blob must not break replay of the rest
// of the conversation.
const decryptFailedPlaceholder = "[message unavailable]"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The forum frontend and the chat service share an origin in
		// production; deployments that split them should tighten this.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Options tunes per-connection behavior.
type Options struct {
	// RateLimitInterval is the minimum spacing between accepted inbound
	// messages per connection.
	RateLimitInterval time.Duration

	// OperationTimeout bounds each persistence and broker call so a slow
	// dependency cannot stall a connection's loop indefinitely.
	OperationTimeout time.Duration

	// PingInterval / ReadTimeout drive the heartbeat.
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		RateLimitInterval: ratelimit.DefaultMinInterval,
		OperationTimeout:  10 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
	}
}

// Handler is the connection gateway: it authenticates a visitor,
// resolves the canonical two-party room, opens the conversation
// session, wires the connection into the fan-out groups, replays
// history and dispatches inbound messages.
type Handler struct {
	auth      *Authenticator
	policy    PairPolicy
	directory interfaces.Directory
	store     interfaces.MessageStore
	windows   *session.Windows
	presence  interfaces.Registry
	broker    interfaces.Broker
	registry  *Registry
	sanitizer *bluemonday.Policy
	opts      Options
}

// NewHandler wires the gateway's collaborators. A nil policy defaults
// to PermitAll.
func NewHandler(
	auth *Authenticator,
	policy PairPolicy,
	directory interfaces.Directory,
	store interfaces.MessageStore,
	windows *session.Windows,
	presence interfaces.Registry,
	broker interfaces.Broker,
	registry *Registry,
	opts Options,
) *Handler {
	if policy == nil {
		policy = PermitAll
	}
	return &Handler{
		auth:      auth,
		policy:    policy,
		directory: directory,
		store:     store,
		windows:   windows,
		presence:  presence,
		broker:    broker,
		registry:  registry,
		sanitizer: bluemonday.StrictPolicy(),
		opts:      opts,
	}
}

// HandleChat serves GET /ws/chat/{username}. Rejections happen after
// the upgrade so the client receives an application close code rather
// than an opaque HTTP error.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	peer := strings.ToLower(mux.Vars(r)["username"])

	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	conn := NewConnection(rawConn)

	identity, err := h.auth.Identity(r)
	if err != nil {
		_ = conn.CloseWithCode(CloseUnauthenticated, "unauthenticated")
		return
	}

	if identity == peer {
		_ = conn.CloseWithCode(CloseSelfChat, "self-chat")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.OperationTimeout)
	defer cancel()

	if !types.IsValidIdentity(peer) {
		_ = conn.CloseWithCode(CloseForbidden, "forbidden")
		return
	}
	exists, err := h.directory.UserExists(ctx, peer)
	if err != nil {
		log.Printf("Directory lookup failed: peer=%s err=%v", peer, err)
		_ = conn.CloseWithCode(CloseInternalError, "server error")
		return
	}
	if !exists {
		_ = conn.CloseWithCode(CloseForbidden, "forbidden")
		return
	}
	if err := h.policy(ctx, identity, peer); err != nil {
		_ = conn.CloseWithCode(CloseForbidden, "forbidden")
		return
	}

	room, err := h.store.EnsureRoom(ctx, identity, peer)
	if err != nil {
		log.Printf("Failed to resolve room: a=%s b=%s err=%v", identity, peer, err)
		_ = conn.CloseWithCode(CloseInternalError, "server error")
		return
	}

	sess, err := h.windows.EnsureOpen(ctx, room)
	if err != nil {
		log.Printf("Failed to open session: room=%s err=%v", room.Name, err)
		_ = conn.CloseWithCode(CloseInternalError, "server error")
		return
	}

	// Subscribe before replay so events arriving mid-replay buffer in
	// the subscription instead of being lost. Each group has its own
	// subscription so teardown failures stay isolated per group. The
	// subscriptions outlive this request, so they are not tied to its
	// context.
	roomSub, err := h.broker.Subscribe(context.Background(), interfaces.RoomGroup(room.Name))
	if err != nil {
		log.Printf("Failed to subscribe to room group: room=%s err=%v", room.Name, err)
		_ = conn.CloseWithCode(CloseInternalError, "server error")
		return
	}
	personalSub, err := h.broker.Subscribe(context.Background(), interfaces.PersonalGroup(identity))
	if err != nil {
		log.Printf("Failed to subscribe to personal group: user=%s err=%v", identity, err)
		_ = roomSub.Close()
		_ = conn.CloseWithCode(CloseInternalError, "server error")
		return
	}

	if _, err := h.presence.Increment(ctx, sess.ID); err != nil {
		log.Printf("Failed to increment participant count: session=%s err=%v", sess.ID, err)
		_ = roomSub.Close()
		_ = personalSub.Close()
		_ = conn.CloseWithCode(CloseInternalError, "server error")
		return
	}

	conn.SetParticipants(identity, peer, room.Name, sess.ID)
	h.registry.Register(conn)
	log.Printf("Connection accepted: user=%s peer=%s room=%s session=%s",
		identity, peer, room.Name, sess.ID)

	go h.serve(conn, room, sess, roomSub, personalSub)
}

// serve runs one accepted connection to completion: replay, event pump,
// read loop, then cleanup. The teardown path is the same regardless of
// why the connection ended.
func (h *Handler) serve(conn *Connection, room *types.Room, sess *types.Session, roomSub, personalSub interfaces.Subscription) {
	defer h.cleanup(conn, sess, roomSub, personalSub)

	lastReplayed, err := h.replay(conn, room, sess)
	if err != nil {
		log.Printf("History replay failed: room=%s err=%v", room.Name, err)
		_ = conn.CloseWithCode(CloseInternalError, "server error")
		return
	}

	go h.pumpEvents(conn, roomSub, personalSub, lastReplayed)

	h.readLoop(conn, room, sess)
}

// replay sends, in order: every message of the room's closed sessions
// (oldest session first, oldest message first, each annotated with its
// session window) or a single no-history marker when there are none;
// then the open session's backlog in timestamp order. It returns the
// timestamp of the last backlog row so the event pump can drop events
// the backlog query already delivered.
func (h *Handler) replay(conn *Connection, room *types.Room, sess *types.Session) (time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.OperationTimeout)
	defer cancel()

	history, err := h.store.LoadHistory(ctx, room)
	if err != nil {
		return time.Time{}, err
	}

	if len(history) == 0 {
		if err := conn.WriteJSON(types.NoHistoryFrame{History: true}); err != nil {
			return time.Time{}, err
		}
	} else {
		for _, msg := range history {
			if err := conn.WriteJSON(h.chatFrame(room, msg, true)); err != nil {
				return time.Time{}, err
			}
		}
	}

	backlog, err := h.store.LoadOpenBacklog(ctx, sess)
	if err != nil {
		return time.Time{}, err
	}
	var lastReplayed time.Time
	for _, msg := range backlog {
		if err := conn.WriteJSON(h.chatFrame(room, msg, false)); err != nil {
			return time.Time{}, err
		}
		lastReplayed = msg.Timestamp
	}

	return lastReplayed, nil
}

// chatFrame decrypts a stored message into its outbound frame,
// substituting the placeholder when no configured key opens it.
func (h *Handler) chatFrame(room *types.Room, msg *types.ChatMessage, history bool) types.ChatFrame {
	plaintext, err := h.store.Decrypt(room, msg)
	if err != nil {
		log.Printf("Undecryptable message in replay: id=%s room=%s", msg.ID, room.Name)
		plaintext = decryptFailedPlaceholder
	}

	frame := types.ChatFrame{
		Message:   plaintext,
		Sender:    msg.Sender,
		Timestamp: msg.Timestamp.Format(types.FrameTimestampLayout),
		History:   history,
	}
	if history {
		frame.SessionRange = msg.SessionRange()
	}
	return frame
}

// readLoop consumes inbound frames until the socket drops. Frames that
// fail the rate gate or schema validation are dropped silently; only a
// persistence failure is fatal to the connection.
func (h *Handler) readLoop(conn *Connection, room *types.Room, sess *types.Session) {
	limiter := ratelimit.New(h.opts.RateLimitInterval)

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: user=%s err=%v", conn.Identity(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if !limiter.Allow(time.Now()) {
			continue
		}

		text, ok := types.ParseInbound(data)
		if !ok {
			continue
		}

		if err := h.handleMessage(conn, room, sess, text); err != nil {
			log.Printf("Fatal error handling message: user=%s err=%v", conn.Identity(), err)
			_ = conn.CloseWithCode(CloseInternalError, "server error")
			return
		}
	}
}

// handleMessage sanitizes, persists and fans out one accepted message.
// A persistence failure is returned (and kills the connection); a
// fan-out failure is only logged, since the message is already durable
// and the counterpart will see it on next replay.
func (h *Handler) handleMessage(conn *Connection, room *types.Room, sess *types.Session, text string) error {
	safe := h.sanitizer.Sanitize(text)

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.OperationTimeout)
	defer cancel()

	msg, err := h.store.Save(ctx, room, sess, conn.Identity(), safe)
	if err != nil {
		return err
	}

	chat := types.ChatEvent{
		Message:   safe,
		Sender:    conn.Identity(),
		Timestamp: msg.Timestamp,
		History:   false,
	}
	if err := h.broker.Publish(ctx, interfaces.RoomGroup(room.Name), chat); err != nil {
		log.Printf("Failed to publish chat event: room=%s err=%v", room.Name, err)
	}

	notify := types.NotifyEvent{From: conn.Identity()}
	if err := h.broker.Publish(ctx, interfaces.PersonalGroup(conn.Peer()), notify); err != nil {
		log.Printf("Failed to publish notify event: user=%s err=%v", conn.Peer(), err)
	}

	return nil
}

// pumpEvents relays fan-out events to the socket until both
// subscriptions close or the connection dies. The event set is closed;
// an unknown variant can only mean a version skew bug, so it is logged.
func (h *Handler) pumpEvents(conn *Connection, roomSub, personalSub interfaces.Subscription, lastReplayed time.Time) {
	roomEvents := roomSub.Events()
	personalEvents := personalSub.Events()

	for roomEvents != nil || personalEvents != nil {
		var event types.Event
		var ok bool

		select {
		case event, ok = <-roomEvents:
			if !ok {
				roomEvents = nil
				continue
			}
		case event, ok = <-personalEvents:
			if !ok {
				personalEvents = nil
				continue
			}
		case <-conn.Done():
			return
		}

		if chat, isChat := event.(types.ChatEvent); isChat && replayedAlready(chat, lastReplayed) {
			continue
		}

		h.relay(conn, event)
	}
}

// replayedAlready reports whether a pumped chat event was already
// delivered by the backlog replay. The subscription opens before the
// backlog query, so a message saved in between arrives both ways;
// backlog timestamps increase strictly, so any chat event not newer
// than the last replayed row is a duplicate.
func replayedAlready(event types.ChatEvent, lastReplayed time.Time) bool {
	return !lastReplayed.IsZero() && !event.Timestamp.After(lastReplayed)
}

func (h *Handler) relay(conn *Connection, event types.Event) {
	switch event := event.(type) {
	case types.ChatEvent:
		frame := types.ChatFrame{
			Message:   event.Message,
			Sender:    event.Sender,
			Timestamp: event.Timestamp.Format(types.FrameTimestampLayout),
			History:   event.History,
		}
		if err := conn.WriteJSON(frame); err != nil {
			log.Printf("Failed to relay chat event: user=%s err=%v", conn.Identity(), err)
		}
	case types.NotifyEvent:
		if err := conn.WriteJSON(types.NewNotifyFrame(event.From)); err != nil {
			log.Printf("Failed to relay notify event: user=%s err=%v", conn.Identity(), err)
		}
	default:
		log.Printf("Unknown event variant %T dropped", event)
	}
}

// cleanup is the single disconnect path for every cause of connection
// death. Each step has isolated error handling: one failing step is
// logged and the rest still run, so the registry and session state
// cannot be left inconsistent by a partial teardown.
func (h *Handler) cleanup(conn *Connection, sess *types.Session, roomSub, personalSub interfaces.Subscription) {
	if err := roomSub.Close(); err != nil {
		log.Printf("Failed to unsubscribe room group: user=%s err=%v", conn.Identity(), err)
	}
	if err := personalSub.Close(); err != nil {
		log.Printf("Failed to unsubscribe personal group: user=%s err=%v", conn.Identity(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.OperationTimeout)
	defer cancel()

	remaining, err := h.presence.Decrement(ctx, sess.ID)
	if err != nil {
		log.Printf("Failed to decrement participant count: session=%s err=%v", sess.ID, err)
	} else if remaining == 0 {
		if err := h.windows.Close(ctx, sess); err != nil {
			log.Printf("Failed to close session: session=%s err=%v", sess.ID, err)
		}
	}

	h.registry.Unregister(conn)
	_ = conn.Close()

	log.Printf("Connection closed: user=%s room=%s remaining=%d", conn.Identity(), conn.RoomName(), remaining)
}
