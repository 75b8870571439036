package session

import (
	"bytes"
	"testing"
)

func TestConfirmUserItemStartsSingleTurn(t *testing.T) {
	s := &connState{}
	s.markConfigured()

	s.noteUserItemForwarded()
	if !s.confirmUserItem() {
		t.Fatal("expected first confirmation to start the turn")
	}

	// A second injection confirmed while the turn is open must defer,
	// never start an overlapping turn.
	s.noteUserItemForwarded()
	if s.confirmUserItem() {
		t.Fatal("confirmation during open turn must not start a second turn")
	}
	_, inProgress, pending := s.snapshot()
	if !inProgress || !pending {
		t.Fatalf("expected in-progress turn with deferred start, got inProgress=%v pending=%v", inProgress, pending)
	}

	// The deferred start fires exactly once, on text completion.
	if !s.textDone() {
		t.Fatal("expected deferred turn-start on text completion")
	}
	if s.textDone() {
		t.Fatal("deferred turn-start must not fire twice")
	}
}

func TestConfirmationWithoutForwardIsIgnored(t *testing.T) {
	s := &connState{}
	s.markConfigured()
	if s.confirmUserItem() {
		t.Fatal("unsolicited item confirmation must not start a turn")
	}
}

func TestTextCompletionClearsTurnNotAudio(t *testing.T) {
	s := &connState{}
	s.markConfigured()
	s.responseStarted()

	// The orchestrator deliberately never touches the flags on audio
	// completion; textDone is the only clear. Simulate the problem
	// ordering: audio finishes, a function result arrives, then text
	// finishes.
	if startNow := s.functionOutputForwarded(); startNow {
		t.Fatal("function output during open turn must defer the turn-start")
	}
	_, inProgress, pending := s.snapshot()
	if !inProgress || !pending {
		t.Fatal("turn must stay open until text completion")
	}
	if !s.textDone() {
		t.Fatal("expected deferred turn-start after text completion")
	}
}

func TestFunctionOutputWithNoOpenTurnStartsImmediately(t *testing.T) {
	s := &connState{}
	s.markConfigured()
	if !s.functionOutputForwarded() {
		t.Fatal("expected immediate turn-start when no turn is open")
	}
	_, inProgress, pending := s.snapshot()
	if !inProgress || pending {
		t.Fatalf("expected open turn without deferral, got inProgress=%v pending=%v", inProgress, pending)
	}
}

func TestSessionUpdateGating(t *testing.T) {
	s := &connState{}
	s.markConfigured()
	if !s.canUpdateSession() {
		t.Fatal("update must be allowed with no turn open")
	}

	s.responseStarted()
	if s.canUpdateSession() {
		t.Fatal("update must be held while a turn is open")
	}

	s.functionOutputForwarded() // sets the pending flag
	s.textDone()                // clears the turn, claims the deferral
	if s.canUpdateSession() {
		t.Fatal("update must be held while the deferred turn runs")
	}

	s.textDone()
	if !s.canUpdateSession() {
		t.Fatal("update must be allowed once all turns complete")
	}
}

func TestHeldFramesFlushInArrivalOrder(t *testing.T) {
	s := &connState{}

	frames := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	for i, f := range frames {
		if !s.holdIfNotReady(i == 1, f) {
			t.Fatalf("frame %d should be held before configuration", i)
		}
	}

	first, held := s.markConfigured()
	if !first {
		t.Fatal("expected first configuration")
	}
	if len(held) != len(frames) {
		t.Fatalf("expected %d held frames, got %d", len(frames), len(held))
	}
	for i, f := range held {
		if !bytes.Equal(f.data, frames[i]) {
			t.Fatalf("frame %d out of order: got %q", i, f.data)
		}
	}
	if !held[1].binary || held[0].binary || held[2].binary {
		t.Fatal("binary flag not preserved through the hold queue")
	}

	// With the replay drained, nothing is held and the ack is not
	// repeated.
	if s.takeHeld() != nil {
		t.Fatal("no extra frames expected")
	}
	if s.holdIfNotReady(false, []byte("late")) {
		t.Fatal("frames must not be held after configuration")
	}
	if again, _ := s.markConfigured(); again {
		t.Fatal("repeat configuration must not report first")
	}
}

// TestFramesHeldDuringReplayWindow pins the configuration handoff: a
// frame arriving while the held queue is being replayed must join the
// queue, never jump ahead of it.
func TestFramesHeldDuringReplayWindow(t *testing.T) {
	s := &connState{}
	if !s.holdIfNotReady(false, []byte("queued")) {
		t.Fatal("frame should be held before configuration")
	}

	first, held := s.markConfigured()
	if !first || len(held) != 1 {
		t.Fatalf("markConfigured = %v, %d frames", first, len(held))
	}

	// The replay of "queued" has not drained yet; a racing frame is held.
	if !s.holdIfNotReady(true, []byte("racing")) {
		t.Fatal("frame overtook the replay window")
	}

	more := s.takeHeld()
	if len(more) != 1 || !bytes.Equal(more[0].data, []byte("racing")) || !more[0].binary {
		t.Fatalf("takeHeld = %+v", more)
	}
	if s.takeHeld() != nil {
		t.Fatal("replay window should close once drained")
	}

	// Window closed: frames flow directly now.
	if s.holdIfNotReady(false, []byte("live")) {
		t.Fatal("frame held after the replay window closed")
	}
}

func TestConfigureWithNothingHeld(t *testing.T) {
	s := &connState{}
	first, held := s.markConfigured()
	if !first || held != nil {
		t.Fatalf("markConfigured = %v, %v", first, held)
	}
	// No replay window opens when nothing was held.
	if s.holdIfNotReady(false, []byte("live")) {
		t.Fatal("frame held with no replay in progress")
	}
}

func TestClosedStateDropsEverything(t *testing.T) {
	s := &connState{}
	s.markConfigured()
	s.responseStarted()
	s.functionOutputForwarded()
	s.markClosed()

	if s.textDone() {
		t.Fatal("no deferred turn-start after close")
	}
	s.noteUserItemForwarded()
	if s.confirmUserItem() {
		t.Fatal("no turn-start after close")
	}
	if s.holdIfNotReady(false, []byte("x")) {
		t.Fatal("no holds after close")
	}
}
