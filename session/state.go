package session

import "sync"

// heldFrame is one client frame queued while the upstream session is not
// yet configured.
type heldFrame struct {
	binary bool
	data   []byte
}

// connState owns the per-connection ordering flags. Both message pumps
// mutate it, so every flag decision happens under one mutex; the methods
// return what the caller is allowed to send, and the flag flip and the
// permission are always computed together so two pumps can never both
// win the same gate.
//
// The flags move monotonically through
// AwaitingSession -> SessionReady <-> ResponseInFlight -> Closed.
type connState struct {
	mu sync.Mutex

	// sessionConfigured flips once, when the upstream acknowledges the
	// session settings. Until then content-bearing frames are held.
	sessionConfigured bool

	// flushing is true while previously held frames are being replayed.
	// Frames arriving in that window are held too, so a live frame can
	// never overtake the replay.
	flushing bool

	// responseInProgress is true from the moment a turn-start is sent
	// (or observed) until the turn's *text* completion. Audio completion
	// never clears it: the upstream can finish audio before text, and
	// starting a new turn in that window is rejected as an active-response
	// conflict.
	responseInProgress bool

	// pendingResponseCreate records a deliberately withheld turn-start,
	// to be sent as soon as the open turn completes textually.
	pendingResponseCreate bool

	// awaitingUserItems counts injected user messages whose item
	// confirmation has not arrived yet; the turn-start is keyed to the
	// confirmation, not to the send.
	awaitingUserItems int

	held   []heldFrame
	closed bool
}

// holdIfNotReady queues a content-bearing frame when the session is not
// yet configured, or while the configuration replay is still draining.
// Returns true when the frame was queued and must not be processed now.
func (s *connState) holdIfNotReady(binary bool, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.sessionConfigured && !s.flushing) {
		return false
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.held = append(s.held, heldFrame{binary: binary, data: buf})
	return true
}

// markConfigured records the upstream's settings acknowledgment and, on
// the first call, opens the replay window: the returned frames are
// flushed by the caller while frames still arriving keep being held. The
// window stays open until takeHeld reports nothing left.
func (s *connState) markConfigured() (first bool, held []heldFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionConfigured {
		return false, nil
	}
	s.sessionConfigured = true
	held = s.held
	s.held = nil
	s.flushing = len(held) > 0
	return true, held
}

// takeHeld hands back frames held during the replay. When none remain the
// replay window closes and live frames flow directly.
func (s *connState) takeHeld() []heldFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.held) > 0 {
		held := s.held
		s.held = nil
		return held
	}
	s.flushing = false
	return nil
}

func (s *connState) configured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionConfigured
}

// noteUserItemForwarded records that a user message item was sent and a
// confirmation is expected.
func (s *connState) noteUserItemForwarded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awaitingUserItems++
}

// confirmUserItem consumes one awaited item confirmation and decides the
// turn-start. With no turn open it claims the turn and the caller sends
// response.create; with a turn still open the start is deferred, never
// sent alongside the open turn.
func (s *connState) confirmUserItem() (startTurn bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.awaitingUserItems == 0 {
		return false
	}
	s.awaitingUserItems--
	if s.responseInProgress {
		s.pendingResponseCreate = true
		return false
	}
	s.responseInProgress = true
	return true
}

// responseStarted records a turn the upstream opened on its own (e.g.
// after a committed utterance under server-side turn detection).
func (s *connState) responseStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseInProgress = true
}

// textDone closes the turn on its text completion. When a deferred
// turn-start is pending it is claimed here, atomically with the clear,
// and the caller sends the response.create.
func (s *connState) textDone() (resume bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseInProgress = false
	if s.pendingResponseCreate && !s.closed {
		s.pendingResponseCreate = false
		s.responseInProgress = true
		return true
	}
	return false
}

// functionOutputForwarded decides the turn-start after a function-call
// result. While the calling turn is still open the start is withheld
// until that turn's text completion; otherwise it is claimed immediately.
func (s *connState) functionOutputForwarded() (startNow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.responseInProgress {
		s.pendingResponseCreate = true
		return false
	}
	s.responseInProgress = true
	return true
}

// canUpdateSession reports whether a session.update may be forwarded now.
// Mid-turn updates are rejected; the caller acknowledges the client
// locally instead.
func (s *connState) canUpdateSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.responseInProgress && !s.pendingResponseCreate
}

func (s *connState) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.held = nil
	s.pendingResponseCreate = false
}

func (s *connState) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// snapshot returns the flag values for logging and tests.
func (s *connState) snapshot() (configured, inProgress, pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionConfigured, s.responseInProgress, s.pendingResponseCreate
}
