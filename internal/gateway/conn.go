// ABOUTME: One websocket connection: handshake, read pump, and frame writes
// ABOUTME: Implements the queue and session sink interfaces for the dispatch loop

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lantern-ai/lantern-gateway/internal/session"
	"github.com/lantern-ai/lantern-gateway/internal/wire"
)

const writeTimeout = 10 * time.Second

// conn is one websocket connection. Before the handshake completes it has
// no session; afterwards it is the session's attached sink and every
// outbound frame flows through the dispatch loop. The read pump goroutine
// owns all fields except caps and the detached flag.
type conn struct {
	g      *Gateway
	ws     *websocket.Conn
	logger *slog.Logger

	sess      *session.Session
	token     string
	counted   bool
	audio     *fragBuffer
	capturing bool

	capsMu sync.Mutex
	caps   wire.Capabilities

	detached  atomic.Bool
	closeOnce sync.Once
}

func newConn(g *Gateway, ws *websocket.Conn) *conn {
	return &conn{
		g:      g,
		ws:     ws,
		logger: g.logger.With("remote", ws.RemoteAddr().String()),
		audio:  newFragBuffer(g.cfg.Gateway.AudioBufferInitial, g.cfg.Gateway.AudioBufferMax),
	}
}

// WriteFrame writes one frame to the websocket. Dispatch loop only; the
// read pump never calls this after the handshake completes.
func (c *conn) WriteFrame(f wire.Frame) error {
	msgType := websocket.TextMessage
	if f.Binary {
		msgType = websocket.BinaryMessage
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(msgType, f.Data)
}

// SessionDetached is called when another connection resumes this
// connection's session. The websocket is closed; cleanup sees the
// detached flag and leaves the session alive for its new owner.
func (c *conn) SessionDetached() {
	c.detached.Store(true)
	c.close("superseded by reconnect")
}

func (c *conn) close(reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
		c.ws.Close()
	})
}

// writeDirect writes a response from the read pump. Only legal before a
// session is attached: the dispatch loop never writes to sessionless
// connections, so there is no concurrent writer yet.
func (c *conn) writeDirect(r wire.Response) {
	frame, err := wire.Encode(r)
	if err != nil {
		c.logger.Error("failed to encode handshake response", "error", err)
		return
	}
	if err := c.WriteFrame(frame); err != nil {
		c.logger.Debug("handshake write failed", "error", err)
	}
}

func (c *conn) setCaps(caps wire.Capabilities) {
	c.capsMu.Lock()
	c.caps = caps
	c.capsMu.Unlock()
}

func (c *conn) supportsOpus() bool {
	c.capsMu.Lock()
	defer c.capsMu.Unlock()
	return c.caps.SupportsOpus()
}

// readPump reads frames until the connection dies, then runs cleanup.
func (c *conn) readPump() {
	defer c.cleanup()

	if max := c.g.cfg.Gateway.MaxTextFrame; max > 0 {
		c.ws.SetReadLimit(int64(max))
	}

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			if !c.handleText(data) {
				return
			}
		case websocket.BinaryMessage:
			c.handleBinary(data)
		}
	}
}

// handleText processes one control message. Returns false when the
// connection should close.
func (c *conn) handleText(data []byte) bool {
	env, err := wire.ParseEnvelope(data)
	if err != nil {
		c.logger.Warn("malformed control message", "error", err)
		return c.sess != nil
	}

	if c.sess == nil {
		return c.handshake(env)
	}

	switch env.Type {
	case wire.TypeText:
		var p wire.TextPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Text == "" {
			c.logger.Warn("malformed text payload", "error", err)
			return true
		}
		c.startRequest()
		s := c.sess
		c.g.registry.Retain(s)
		go c.g.runTextWorker(s, p.Text, p.Images)

	case wire.TypeCancel:
		c.sess.Cancel()
		c.g.queue.Enqueue(wire.NewState(c.sess.ID, wire.StateIdle, ""))

	case wire.TypeCapabilitiesUpdate:
		var p wire.CapabilitiesPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warn("malformed capabilities payload", "error", err)
			return true
		}
		c.setCaps(p.Capabilities)

	case wire.TypeGetHistory:
		c.g.queue.Enqueue(c.g.storedHistory(c.sess))

	case wire.TypeInit, wire.TypeReconnect:
		c.logger.Warn("handshake message on established connection", "type", env.Type)

	default:
		c.logger.Warn("unknown message type", "type", env.Type)
	}
	return true
}

// startRequest marks the session active for a new request: any previous
// cancel is spent, and the client sees the channel go busy.
func (c *conn) startRequest() {
	c.sess.ClearCancel()
	c.sess.Touch()
	c.g.queue.Enqueue(wire.NewState(c.sess.ID, wire.StateThinking, ""))
}

func (c *conn) handleBinary(data []byte) {
	if len(data) == 0 || c.sess == nil {
		return
	}

	switch data[0] {
	case wire.BinAudioIn:
		if !c.capturing && len(data) > 1 {
			c.capturing = true
			c.g.queue.Enqueue(wire.NewState(c.sess.ID, wire.StateListening, ""))
		}
		if err := c.audio.Append(data[1:]); err != nil {
			c.g.queue.Enqueue(wire.NewError(c.sess.ID, wire.ErrCodeBufferFull,
				"audio capture exceeds buffer limit", true))
		}

	case wire.BinAudioInEnd:
		c.capturing = false
		captured := c.audio.Take()
		if len(captured) == 0 {
			c.g.queue.Enqueue(wire.NewState(c.sess.ID, wire.StateIdle, ""))
			return
		}
		c.startRequest()
		s := c.sess
		c.g.registry.Retain(s)
		go c.g.runAudioWorker(s, captured, c.supportsOpus())

	default:
		// 0x2x range is reserved; anything else is ignored
		c.logger.Debug("unhandled binary frame type", "type", data[0])
	}
}

// handshake processes control messages until the client sends init or
// reconnect. Anything else before attachment is ignored, except a
// capabilities declaration, which is captured for the session to come.
// Returns false when the connection should close.
func (c *conn) handshake(env *wire.Envelope) bool {
	switch env.Type {
	case wire.TypeInit, wire.TypeReconnect:
	case wire.TypeCapabilitiesUpdate:
		var p wire.CapabilitiesPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warn("malformed capabilities payload", "error", err)
			return true
		}
		c.setCaps(p.Capabilities)
		return true
	default:
		c.logger.Warn("ignoring message before handshake", "type", env.Type)
		return true
	}

	var p wire.InitPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.writeDirect(wire.NewError(0, wire.ErrCodeProcessing, "malformed handshake payload", false))
			return false
		}
	}
	c.setCaps(p.Capabilities)

	if p.Token != "" {
		if id, ok := c.g.tokens.Lookup(p.Token); ok {
			if s, err := c.g.registry.GetForReconnect(id); err == nil {
				c.resume(s, p.Token)
				return true
			}
		}
		c.logger.Info("resume token not recognized, starting fresh session")
	}

	return c.fresh()
}

// fresh admits a new client and creates its session.
func (c *conn) fresh() bool {
	if !c.g.tryAdmit() {
		c.writeDirect(wire.NewError(0, wire.ErrCodeMaxClients, "too many connected clients", false))
		return false
	}
	c.counted = true

	token, err := session.GenerateToken()
	if err != nil {
		// No token means no resumable session; refuse the handshake rather
		// than hand out a session that cannot be secured.
		c.logger.Error("token generation failed", "error", err)
		c.writeDirect(wire.NewError(0, wire.ErrCodeProcessing, "session setup failed", false))
		c.g.releaseClient()
		c.counted = false
		return false
	}

	s := c.g.registry.Create(c.g.cfg.Pipeline.SystemPrompt)
	c.g.tokens.Register(token, s.ID)
	c.sess = s
	c.token = token
	c.logger = c.logger.With("session_id", s.ID)

	s.Attach(c)
	c.sendWelcome(false)
	c.logger.Info("client connected", "clients", c.g.clientCount())
	return true
}

// resume reattaches a session from a resume token. The previous
// connection, if still up, is superseded.
func (c *conn) resume(s *session.Session, token string) {
	c.g.admitResumed()
	c.counted = true

	s.ClearDisconnected()
	s.Touch()
	c.g.tokens.Register(token, s.ID)
	c.sess = s
	c.token = token
	c.logger = c.logger.With("session_id", s.ID)

	s.Attach(c)
	c.sendWelcome(true)
	c.logger.Info("client resumed session", "clients", c.g.clientCount())
}

// sendWelcome queues the handshake reply: token, config snapshot, and for
// a resumed session the replayed history, then the idle state.
func (c *conn) sendWelcome(replayHistory bool) {
	cfg := c.g.cfg
	c.g.queue.Enqueue(wire.NewSessionToken(c.sess.ID, c.token))
	c.g.queue.Enqueue(wire.NewConfigSnapshot(c.sess.ID,
		cfg.Pipeline.Provider, cfg.Pipeline.Model, "pcm",
		cfg.Gateway.MaxClients, cfg.Pipeline.TTSEnabled))
	if replayHistory {
		c.g.queue.Enqueue(historyResponse(c.sess))
	}
	c.g.queue.Enqueue(wire.NewState(c.sess.ID, wire.StateIdle, ""))
}

// historyReplayLimit caps how many persisted turns a history read returns.
const historyReplayLimit = 50

// storedHistory builds a history reply from the transcript store, falling
// back to the session's in-memory conversation when no store is configured.
func (g *Gateway) storedHistory(s *session.Session) wire.History {
	if g.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		turns, err := g.store.Recent(ctx, s.Key, historyReplayLimit)
		if err == nil {
			entries := make([]wire.HistoryEntry, 0, len(turns))
			for _, t := range turns {
				entries = append(entries, wire.HistoryEntry{Role: t.Role, Text: t.Text})
			}
			return wire.NewHistory(s.ID, entries)
		}
		g.logger.Warn("transcript read failed", "error", err, "session_key", s.Key)
	}
	return historyResponse(s)
}

// historyResponse builds a history reply from the session's in-memory
// conversation, excluding system turns.
func historyResponse(s *session.Session) wire.History {
	var entries []wire.HistoryEntry
	for _, m := range s.History() {
		if m.Role == "system" {
			continue
		}
		entries = append(entries, wire.HistoryEntry{Role: m.Role, Text: m.Content})
	}
	return wire.NewHistory(s.ID, entries)
}

// cleanup runs when the read pump exits. A superseded connection must not
// disturb the session its successor now owns.
func (c *conn) cleanup() {
	c.ws.Close()

	if c.detached.Load() {
		if c.counted {
			c.g.releaseClient()
		}
		if c.sess != nil {
			c.g.registry.Release(c.sess)
		}
		return
	}

	if c.sess != nil {
		c.sess.Detach(c)
		c.g.registry.MarkDisconnected(c.sess.ID)
		if c.counted {
			c.g.releaseClient()
		}
		c.g.registry.Release(c.sess)
		c.logger.Info("client disconnected", "clients", c.g.clientCount())
		return
	}

	if c.counted {
		c.g.releaseClient()
	}
}
