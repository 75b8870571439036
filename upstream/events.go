package upstream

import "github.com/google/uuid"

// Client event types (sent from the proxy to the realtime API).
const (
	EventTypeSessionUpdate          = "session.update"
	EventTypeInputAudioBufferAppend = "input_audio_buffer.append"
	EventTypeInputAudioBufferCommit = "input_audio_buffer.commit"
	EventTypeConversationItemCreate = "conversation.item.create"
	EventTypeResponseCreate         = "response.create"
	EventTypeResponseCancel         = "response.cancel"
)

// Server event types (received from the realtime API).
const (
	EventTypeError = "error"

	EventTypeSessionCreated = "session.created"
	EventTypeSessionUpdated = "session.updated"

	EventTypeConversationItemAdded   = "conversation.item.added"
	EventTypeConversationItemCreated = "conversation.item.created"
	EventTypeConversationItemDone    = "conversation.item.done"

	EventTypeResponseCreated = "response.created"
	EventTypeResponseDone    = "response.done"

	EventTypeResponseTextDelta = "response.text.delta"
	EventTypeResponseTextDone  = "response.text.done"

	EventTypeResponseAudioDelta = "response.audio.delta"
	EventTypeResponseAudioDone  = "response.audio.done"

	EventTypeResponseAudioTranscriptDelta = "response.audio_transcript.delta"
	EventTypeResponseAudioTranscriptDone  = "response.audio_transcript.done"

	EventTypeResponseFunctionCallArgumentsDone = "response.function_call_arguments.done"
)

// ServerEvent is the decoded form of one upstream event. The struct is
// flat; which fields are populated depends on Type.
type ServerEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	// Session events
	Session *SessionResource `json:"session,omitempty"`

	// Conversation item events
	Item   *ConversationItem `json:"item,omitempty"`
	ItemID string            `json:"item_id,omitempty"`

	// Response events
	ResponseID string `json:"response_id,omitempty"`

	// Delta carries incremental text, or base64 audio for audio deltas.
	Delta      string `json:"delta,omitempty"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`

	// Function call events
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// Error event
	Error *ErrorDetail `json:"error,omitempty"`
}

// TextTerminal reports whether the event closes the textual side of a
// turn. The transcript-done variant is included because the upstream
// emits it instead of text.done when the response modality is audio.
// Audio completion is deliberately excluded: audio.done can arrive while
// text is still streaming, so it must never be treated as turn closure.
func (ev *ServerEvent) TextTerminal() bool {
	return ev.Type == EventTypeResponseTextDone || ev.Type == EventTypeResponseAudioTranscriptDone
}

// TextOf returns the completed text carried by a text-terminal event.
func (ev *ServerEvent) TextOf() string {
	if ev.Text != "" {
		return ev.Text
	}
	return ev.Transcript
}

// ItemConfirmation reports whether the event confirms that a conversation
// item has been accepted, under any of the names the upstream uses.
func (ev *ServerEvent) ItemConfirmation() bool {
	switch ev.Type {
	case EventTypeConversationItemAdded, EventTypeConversationItemCreated, EventTypeConversationItemDone:
		return true
	default:
		return false
	}
}

// SessionResource mirrors the session object on session.created/updated.
type SessionResource struct {
	ID           string   `json:"id,omitempty"`
	Model        string   `json:"model,omitempty"`
	Modalities   []string `json:"modalities,omitempty"`
	Voice        string   `json:"voice,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

// ConversationItem is the inner item object of conversation.item.* events.
type ConversationItem struct {
	ID      string        `json:"id,omitempty"`
	Type    string        `json:"type,omitempty"`
	Role    string        `json:"role,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Content []ItemContent `json:"content,omitempty"`
}

type ItemContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ErrorDetail is the payload of an upstream error event.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
}

// generateEventID returns a unique id for an outbound event.
func generateEventID() string {
	return "evt_" + uuid.New().String()[:12]
}

// SessionConfig is the payload of a session.update event.
type SessionConfig struct {
	Modalities        []string       `json:"modalities,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	Voice             string         `json:"voice,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat string         `json:"output_audio_format,omitempty"`
	Tools             []Tool         `json:"tools,omitempty"`
	ToolChoice        string         `json:"tool_choice,omitempty"`
	TurnDetection     map[string]any `json:"turn_detection,omitempty"`
}

// Tool declares one function the model may call.
type Tool struct {
	Type        string         `json:"type"` // "function"
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// SessionUpdateEvent builds a session.update event.
func SessionUpdateEvent(cfg *SessionConfig) map[string]any {
	return map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeSessionUpdate,
		"session":  cfg,
	}
}

// AppendAudioEvent builds an input_audio_buffer.append with base64 PCM.
func AppendAudioEvent(audioBase64 string) map[string]any {
	return map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeInputAudioBufferAppend,
		"audio":    audioBase64,
	}
}

// CommitEvent marks the buffered input audio as one complete utterance
// segment.
func CommitEvent() map[string]any {
	return map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeInputAudioBufferCommit,
	}
}

// UserMessageItem builds a conversation.item.create with a user text
// message.
func UserMessageItem(text string) map[string]any {
	return messageItem("user", "input_text", text)
}

// AssistantMessageItem builds a conversation.item.create with an
// assistant text message.
func AssistantMessageItem(text string) map[string]any {
	return messageItem("assistant", "text", text)
}

func messageItem(role, contentType, text string) map[string]any {
	return map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeConversationItemCreate,
		"item": map[string]any{
			"type": "message",
			"role": role,
			"content": []map[string]any{
				{"type": contentType, "text": text},
			},
		},
	}
}

// FunctionCallOutputItem builds a conversation.item.create carrying the
// result of a function call executed by the application backend.
func FunctionCallOutputItem(callID, output string) map[string]any {
	return map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeConversationItemCreate,
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	}
}

// ResponseCreateEvent asks the upstream to start a new turn.
func ResponseCreateEvent() map[string]any {
	return map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeResponseCreate,
	}
}
