package session

import (
	"strings"

	"github.com/signal-meaning/voiceproxy/messages"
	"github.com/signal-meaning/voiceproxy/upstream"
)

// Pure mapping between the client vocabulary and the upstream vocabulary.
// Nothing here touches connection state; gating happens in the caller.

const (
	pcm16Format   = "pcm16"
	roleUser      = "user"
	roleAssistant = "assistant"
)

// sessionConfigFromSettings maps a full Settings message to a
// session.update payload.
func sessionConfigFromSettings(msg *messages.ClientMessage) *upstream.SessionConfig {
	cfg := &upstream.SessionConfig{
		Modalities:        []string{"text", "audio"},
		InputAudioFormat:  pcm16Format,
		OutputAudioFormat: pcm16Format,
	}
	if msg.Agent != nil {
		if msg.Agent.Think != nil {
			cfg.Instructions = msg.Agent.Think.Prompt
			cfg.Tools = toolsFromFunctions(msg.Agent.Think.Functions)
			if len(cfg.Tools) > 0 {
				cfg.ToolChoice = "auto"
			}
		}
		if msg.Agent.Speak != nil {
			cfg.Voice = msg.Agent.Speak.Voice
		}
	}
	return cfg
}

// sessionConfigFromPrompt maps an UpdatePrompt to a partial session.update.
func sessionConfigFromPrompt(prompt string) *upstream.SessionConfig {
	return &upstream.SessionConfig{Instructions: prompt}
}

// sessionConfigFromSpeak maps an UpdateSpeak to a partial session.update.
func sessionConfigFromSpeak(speak *messages.SpeakSettings) *upstream.SessionConfig {
	cfg := &upstream.SessionConfig{}
	if speak != nil {
		cfg.Voice = speak.Voice
	}
	return cfg
}

func toolsFromFunctions(decls []messages.FunctionDecl) []upstream.Tool {
	if len(decls) == 0 {
		return nil
	}
	tools := make([]upstream.Tool, 0, len(decls))
	for _, d := range decls {
		tools = append(tools, upstream.Tool{
			Type:        "function",
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return tools
}

// turnTracker synthesizes the client-side view of one turn: the first
// audio delta, the accumulated text, and which conversation items have
// already been confirmed. It is owned by the upstream receive goroutine
// and needs no locking.
type turnTracker struct {
	text         strings.Builder
	audioStarted bool
	confirmed    map[string]bool
}

func newTurnTracker() *turnTracker {
	return &turnTracker{confirmed: make(map[string]bool)}
}

// beginResponse resets the per-turn synthesis state.
func (t *turnTracker) beginResponse() {
	t.text.Reset()
	t.audioStarted = false
}

// noteAudioDelta reports whether this is the turn's first audio delta.
func (t *turnTracker) noteAudioDelta() (first bool) {
	if t.audioStarted {
		return false
	}
	t.audioStarted = true
	return true
}

func (t *turnTracker) noteTextDelta(delta string) {
	t.text.WriteString(delta)
}

// takeText returns the turn's completed text, preferring the terminal
// event's own text over the accumulated deltas, and resets the
// accumulator.
func (t *turnTracker) takeText(final string) string {
	accumulated := t.text.String()
	t.text.Reset()
	if final != "" {
		return final
	}
	return accumulated
}

// confirmItem dedupes item confirmations: the upstream announces the same
// item under several event names, and the turn-start must key off exactly
// one of them.
func (t *turnTracker) confirmItem(itemID string) (first bool) {
	if itemID == "" {
		return true
	}
	if t.confirmed[itemID] {
		return false
	}
	t.confirmed[itemID] = true
	return true
}
