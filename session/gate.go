package session

import "sync"

// commitGate counts inbound PCM bytes since the last commit and decides
// when the accumulated audio amounts to a complete utterance segment.
// Below the threshold no commit is emitted; the upstream rejects commits
// of very short buffers, so short segments simply keep accumulating.
// The gate holds byte counts only, never audio: frames stream through to
// the upstream as they arrive.
type commitGate struct {
	mu        sync.Mutex
	threshold int
	pending   int
}

func newCommitGate(threshold int) *commitGate {
	return &commitGate{threshold: threshold}
}

// note adds n appended bytes and reports whether a commit is due. When it
// is, the counter resets so the next segment starts from zero.
func (g *commitGate) note(n int) (commit bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending += n
	if g.pending < g.threshold {
		return false
	}
	g.pending = 0
	return true
}

// pendingBytes returns the bytes accumulated since the last commit.
func (g *commitGate) pendingBytes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// reset discards the current count, e.g. on teardown.
func (g *commitGate) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = 0
}
