package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/signal-meaning/voiceproxy/config"
	"github.com/signal-meaning/voiceproxy/logging"
	"github.com/signal-meaning/voiceproxy/messages"
	"github.com/signal-meaning/voiceproxy/upstream"
)

const (
	defaultWriteQueueSize = 256
	writeTimeout          = 10 * time.Second
)

// ErrBufferFull reports that the client-bound write queue is at capacity;
// the client is not draining fast enough to keep the session alive.
var ErrBufferFull = errors.New("client write queue full")

// outFrame is one queued client-bound WebSocket frame.
type outFrame struct {
	messageType int
	data        []byte
}

// Conn pairs one client socket with one upstream socket and runs the two
// message pumps against a shared connState. All ordering decisions live
// in connState and commitGate; Conn itself only multiplexes I/O,
// translates between the vocabularies, and tears both sides down
// together.
type Conn struct {
	ID      string
	TraceID string

	client *websocket.Conn
	up     *upstream.Client
	state  *connState
	gate   *commitGate
	log    *slog.Logger

	CreatedAt    time.Time
	LastActivity time.Time

	writeChan chan outFrame
	CloseChan chan struct{}

	mu          sync.RWMutex
	closed      bool
	closeReason *messages.AgentEvent
}

// NewConn accepts a client socket and eagerly opens the paired upstream
// connection. traceID correlates log records across services; when the
// client supplies none, the connection id is used.
func NewConn(ctx context.Context, id, traceID string, clientConn *websocket.Conn, cfg *config.Config, logger *slog.Logger) (*Conn, error) {
	if traceID == "" {
		traceID = id
	}
	log := logging.WithTrace(logger, traceID).With("connection_id", id)

	up, err := upstream.Dial(ctx, upstream.Config{
		URL:    cfg.UpstreamURL,
		APIKey: cfg.UpstreamAPIKey,
		Model:  cfg.UpstreamModel,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open upstream connection: %w", err)
	}

	clientConn.SetReadLimit(int64(cfg.MaxFrameSize))

	queueSize := cfg.MaxBufferSize
	if queueSize <= 0 {
		queueSize = defaultWriteQueueSize
	}

	c := &Conn{
		ID:           id,
		TraceID:      traceID,
		client:       clientConn,
		up:           up,
		state:        &connState{},
		gate:         newCommitGate(cfg.CommitThresholdBytes()),
		log:          log,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
		writeChan:    make(chan outFrame, queueSize),
		CloseChan:    make(chan struct{}),
	}
	return c, nil
}

// Start begins the bidirectional message handling.
func (c *Conn) Start() {
	go c.writePump()
	go c.upstreamLoop()
	c.queueEvent(messages.NewWelcome(c.ID))
	go c.handleClientMessages()
}

// writePump drains all client-bound frames in a single goroutine. It
// owns the teardown of the client socket: on close it flushes whatever
// was queued before the signal, sends the close handshake, and only then
// closes the socket, so a final error event still reaches the client.
func (c *Conn) writePump() {
	defer func() {
		c.client.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.client.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		c.client.Close()
	}()

	for {
		select {
		case <-c.CloseChan:
			c.flushQueued()
			c.writeCloseReason()
			return
		case frame := <-c.writeChan:
			c.client.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.client.WriteMessage(frame.messageType, frame.data); err != nil {
				return
			}
		}
	}
}

// flushQueued writes frames that were queued before the close signal.
func (c *Conn) flushQueued() {
	for {
		select {
		case frame := <-c.writeChan:
			c.client.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.client.WriteMessage(frame.messageType, frame.data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// writeCloseReason sends the terminal error event recorded for this
// close, if any, after the queued frames have been flushed.
func (c *Conn) writeCloseReason() {
	c.mu.RLock()
	reason := c.closeReason
	c.mu.RUnlock()
	if reason == nil {
		return
	}
	if data, err := sonic.Marshal(reason); err == nil {
		c.client.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.client.WriteMessage(websocket.TextMessage, data)
	}
}

// queueEvent encodes a control event and queues it for the client.
func (c *Conn) queueEvent(ev *messages.AgentEvent) {
	data, err := sonic.Marshal(ev)
	if err != nil {
		c.log.Error("failed to encode agent event", "event_type", ev.Type, "error", err)
		return
	}
	if err := c.queueFrame(outFrame{messageType: websocket.TextMessage, data: data}); err != nil {
		c.handleOverflow(ev.Type)
	}
}

// queueAudio queues raw PCM for the client as a binary frame.
func (c *Conn) queueAudio(data []byte) {
	if err := c.queueFrame(outFrame{messageType: websocket.BinaryMessage, data: data}); err != nil {
		c.handleOverflow("audio")
	}
}

func (c *Conn) queueFrame(frame outFrame) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil
	}
	select {
	case c.writeChan <- frame:
		c.touch()
		return nil
	default:
		return ErrBufferFull
	}
}

// handleOverflow tears the connection down when the client stops draining
// its queue. The BUFFER_FULL error is recorded as the close reason; the
// write pump delivers it after flushing what the client can still take.
func (c *Conn) handleOverflow(frameKind string) {
	c.log.Warn("client write queue full, closing",
		"code", messages.ErrCodeBufferFull, "frame", frameKind, "capacity", cap(c.writeChan))
	c.setCloseReason(messages.NewError(messages.ErrCodeBufferFull, ErrBufferFull.Error()))
	c.Close()
}

func (c *Conn) setCloseReason(ev *messages.AgentEvent) {
	c.mu.Lock()
	if c.closeReason == nil && !c.closed {
		c.closeReason = ev
	}
	c.mu.Unlock()
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.LastActivity = time.Now()
	c.mu.Unlock()
}

// handleClientMessages is the client-to-upstream pump.
func (c *Conn) handleClientMessages() {
	defer c.Close()

	for {
		select {
		case <-c.CloseChan:
			return
		default:
			messageType, message, err := c.client.ReadMessage()
			if err != nil {
				if !c.IsClosed() {
					c.log.Debug("client read ended", "error", err)
				}
				return
			}

			c.touch()
			if !c.handleClientFrame(messageType, message) {
				return
			}
		}
	}
}

// handleClientFrame processes one client frame and reports whether the
// pump should keep running. Frames that carry conversation content are
// held until the upstream session is configured and replayed in arrival
// order afterwards.
func (c *Conn) handleClientFrame(messageType int, message []byte) bool {
	if messageType == websocket.BinaryMessage {
		if c.state.holdIfNotReady(true, message) {
			return true
		}
		c.handleAudioFrame(message)
		return true
	}

	msg, err := messages.DecodeClient(message)
	if err != nil {
		c.log.Warn("malformed client message", "error", err)
		c.queueEvent(messages.NewError(messages.ErrCodeInvalidMessage, err.Error()))
		return false
	}

	if msg.ContentBearing() && c.state.holdIfNotReady(false, message) {
		return true
	}

	return c.dispatchClientMessage(msg)
}

// replayFrame processes one held frame, bypassing the hold gate so the
// replay cannot re-queue its own frames. Returns false when the frame
// requires teardown, same as the live path.
func (c *Conn) replayFrame(frame heldFrame) bool {
	if frame.binary {
		c.handleAudioFrame(frame.data)
		return true
	}
	msg, err := messages.DecodeClient(frame.data)
	if err != nil {
		c.log.Warn("malformed client message", "error", err)
		c.queueEvent(messages.NewError(messages.ErrCodeInvalidMessage, err.Error()))
		return false
	}
	return c.dispatchClientMessage(msg)
}

func (c *Conn) dispatchClientMessage(msg *messages.ClientMessage) bool {
	switch msg.Type {
	case messages.TypeSettings:
		c.handleSessionUpdate(sessionConfigFromSettings(msg))

	case messages.TypeUpdatePrompt:
		c.handleSessionUpdate(sessionConfigFromPrompt(msg.Prompt))

	case messages.TypeUpdateSpeak:
		c.handleSessionUpdate(sessionConfigFromSpeak(msg.Speak))

	case messages.TypeInjectUserMessage:
		c.handleInjectUserMessage(msg.Content)

	case messages.TypeInjectAgentMessage:
		c.sendUpstream(upstream.AssistantMessageItem(msg.Message))

	case messages.TypeFunctionCallResponse:
		c.handleFunctionCallResponse(msg)

	case messages.TypeKeepAlive:
		// Activity already touched; nothing to forward.

	case messages.TypeClose:
		return false
	}
	return true
}

// handleSessionUpdate forwards a session.update unless a turn is open or
// deferred, in which case the client is acknowledged locally: the gate is
// an internal ordering decision the client doesn't need to wait on.
func (c *Conn) handleSessionUpdate(cfg *upstream.SessionConfig) {
	if c.state.configured() && !c.state.canUpdateSession() {
		c.log.Debug("session update held mid-turn, acknowledging locally")
		c.queueEvent(messages.NewSettingsApplied())
		return
	}
	c.sendUpstream(upstream.SessionUpdateEvent(cfg))
}

// handleInjectUserMessage forwards the user message item. The turn-start
// is not sent here: it follows the upstream's item confirmation, via the
// state machine.
func (c *Conn) handleInjectUserMessage(content string) {
	c.state.noteUserItemForwarded()
	c.sendUpstream(upstream.UserMessageItem(content))
}

// handleFunctionCallResponse forwards the function result immediately and
// sends the follow-up turn-start only when no turn is still open;
// otherwise the start is deferred until that turn's text completion.
func (c *Conn) handleFunctionCallResponse(msg *messages.ClientMessage) {
	output := msg.Content
	if msg.Error != "" {
		encoded, err := sonic.Marshal(map[string]string{"error": msg.Error})
		if err == nil {
			output = string(encoded)
		} else {
			output = msg.Error
		}
	}

	c.sendUpstream(upstream.FunctionCallOutputItem(msg.ID, output))
	if c.state.functionOutputForwarded() {
		c.sendUpstream(upstream.ResponseCreateEvent())
	} else {
		c.log.Debug("turn-start deferred until open turn completes", "call_id", msg.ID)
	}
}

// handleAudioFrame streams one PCM frame to the upstream and emits a
// commit once enough audio for a complete utterance segment has accrued.
func (c *Conn) handleAudioFrame(data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	c.sendUpstream(upstream.AppendAudioEvent(encoded))
	if c.gate.note(len(data)) {
		c.sendUpstream(upstream.CommitEvent())
	}
}

func (c *Conn) sendUpstream(event map[string]any) {
	if c.IsClosed() {
		return
	}
	if err := c.up.Send(event); err != nil {
		c.log.Error("upstream send failed", "event_type", event["type"], "error", err)
		c.queueEvent(messages.NewError(messages.ErrCodeUpstreamError, err.Error()))
		c.Close()
	}
}

// upstreamLoop is the upstream-to-client pump. It is the only goroutine
// that reads upstream events, so the turnTracker needs no locking; the
// shared flags still go through connState because the client pump
// mutates them too.
func (c *Conn) upstreamLoop() {
	defer c.Close()

	tracker := newTurnTracker()
	for res := range c.up.Events() {
		if res.Err != nil {
			if !c.IsClosed() {
				c.log.Error("upstream connection failed", "error", res.Err)
				c.queueEvent(messages.NewError(messages.ErrCodeConnectionClosed, res.Err.Error()))
			}
			return
		}
		c.handleUpstreamEvent(res.Event, tracker)
	}
}

func (c *Conn) handleUpstreamEvent(ev *upstream.ServerEvent, tracker *turnTracker) {
	switch {
	case ev.Type == upstream.EventTypeSessionCreated:
		c.log.Debug("upstream session created")

	case ev.Type == upstream.EventTypeSessionUpdated:
		first, held := c.state.markConfigured()
		if first {
			// Frames arriving while this replay runs are held by the
			// state and drained here, so nothing overtakes the queue.
			for len(held) > 0 {
				for _, frame := range held {
					if !c.replayFrame(frame) {
						c.Close()
						return
					}
				}
				held = c.state.takeHeld()
			}
		}
		c.queueEvent(messages.NewSettingsApplied())

	case ev.ItemConfirmation():
		if ev.Item != nil && ev.Item.Role == roleUser && tracker.confirmItem(ev.Item.ID) {
			if c.state.confirmUserItem() {
				c.sendUpstream(upstream.ResponseCreateEvent())
			}
		}

	case ev.Type == upstream.EventTypeResponseCreated:
		c.state.responseStarted()
		tracker.beginResponse()
		c.queueEvent(messages.NewAgentThinking())

	case ev.Type == upstream.EventTypeResponseTextDelta,
		ev.Type == upstream.EventTypeResponseAudioTranscriptDelta:
		tracker.noteTextDelta(ev.Delta)

	case ev.Type == upstream.EventTypeResponseAudioDelta:
		audio, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			c.log.Warn("undecodable audio delta", "error", err)
			return
		}
		if tracker.noteAudioDelta() {
			c.queueEvent(messages.NewAgentStartedSpeaking())
		}
		c.queueAudio(audio)

	case ev.Type == upstream.EventTypeResponseAudioDone:
		// Audio completion is not turn completion: text may still be
		// streaming, and the in-flight flag stays set until it finishes.
		c.queueEvent(messages.NewAgentAudioDone())

	case ev.TextTerminal():
		text := tracker.takeText(ev.TextOf())
		if text != "" {
			c.queueEvent(messages.NewConversationText(roleAssistant, text))
		}
		if c.state.textDone() {
			c.log.Debug("sending deferred turn-start")
			c.sendUpstream(upstream.ResponseCreateEvent())
		}

	case ev.Type == upstream.EventTypeResponseFunctionCallArgumentsDone:
		c.queueEvent(messages.NewFunctionCallRequest(ev.CallID, ev.Name, ev.Arguments))

	case ev.Type == upstream.EventTypeError:
		c.handleUpstreamError(ev.Error)
	}
}

// activeResponseCode is the upstream rejection for a turn-start issued
// while a turn is still open. Structurally unreachable given the state
// machine; if it surfaces anyway it is a proxy bug, not a client error.
const activeResponseCode = "conversation_already_has_active_response"

func (c *Conn) handleUpstreamError(detail *upstream.ErrorDetail) {
	if detail == nil {
		return
	}
	if detail.Code == activeResponseCode {
		c.log.Error("ordering violation reported by upstream",
			"code", detail.Code, "message", detail.Message)
		c.queueEvent(messages.NewError(messages.ErrCodeOrderingViolation, detail.Message))
		return
	}
	c.log.Warn("upstream error", "code", detail.Code, "message", detail.Message)
	c.queueEvent(messages.NewError(messages.ErrCodeUpstreamError, detail.Message))
}

// IsClosed returns whether the connection is closed.
func (c *Conn) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close terminates both sides and discards deferred state. Safe to call
// from either pump or from the manager.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.state.markClosed()
	c.gate.reset()

	// The write pump reacts to CloseChan by flushing and closing the
	// client socket; writeChan stays open so late producers never panic.
	close(c.CloseChan)

	if c.up != nil {
		c.up.Close()
	}

	c.log.Info("connection closed")
	return nil
}
