package messages

// Error codes
const (
	ErrCodeInvalidMessage    = "INVALID_MESSAGE"
	ErrCodeUpstreamError     = "UPSTREAM_ERROR"
	ErrCodeSessionFailed     = "SESSION_FAILED"
	ErrCodeConnectionClosed  = "CONNECTION_CLOSED"
	ErrCodeOrderingViolation = "ORDERING_VIOLATION"
	ErrCodeBufferFull        = "BUFFER_FULL"
)

// Event types sent to the client. Audio reaches the client as binary
// frames, not as one of these.
const (
	TypeWelcome              = "Welcome"
	TypeSettingsApplied      = "SettingsApplied"
	TypeConversationText     = "ConversationText"
	TypeAgentThinking        = "AgentThinking"
	TypeAgentStartedSpeaking = "AgentStartedSpeaking"
	TypeAgentAudioDone       = "AgentAudioDone"
	TypeFunctionCallRequest  = "FunctionCallRequest"
	TypeError                = "Error"
)

// AgentEvent is one outbound control message to the client.
type AgentEvent struct {
	Type string `json:"type"`

	// Welcome
	ConnectionID string `json:"connection_id,omitempty"`

	// ConversationText
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// FunctionCallRequest
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// Error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewWelcome greets a freshly accepted connection with its id.
func NewWelcome(connectionID string) *AgentEvent {
	return &AgentEvent{Type: TypeWelcome, ConnectionID: connectionID}
}

// NewSettingsApplied acknowledges that session settings are in effect.
// The client treats this as the signal that the first InjectUserMessage
// may be sent.
func NewSettingsApplied() *AgentEvent {
	return &AgentEvent{Type: TypeSettingsApplied}
}

// NewConversationText carries one completed utterance of the conversation.
func NewConversationText(role, content string) *AgentEvent {
	return &AgentEvent{Type: TypeConversationText, Role: role, Content: content}
}

// NewAgentThinking signals that a turn is being generated.
func NewAgentThinking() *AgentEvent {
	return &AgentEvent{Type: TypeAgentThinking}
}

// NewAgentStartedSpeaking signals the first audio of the current turn.
func NewAgentStartedSpeaking() *AgentEvent {
	return &AgentEvent{Type: TypeAgentStartedSpeaking}
}

// NewAgentAudioDone signals that the turn's audio stream has ended.
func NewAgentAudioDone() *AgentEvent {
	return &AgentEvent{Type: TypeAgentAudioDone}
}

// NewFunctionCallRequest asks the client to execute a function and reply
// with a FunctionCallResponse carrying the same id.
func NewFunctionCallRequest(id, name, arguments string) *AgentEvent {
	return &AgentEvent{Type: TypeFunctionCallRequest, ID: id, Name: name, Arguments: arguments}
}

// NewError reports a typed error to the client.
func NewError(code, message string) *AgentEvent {
	return &AgentEvent{Type: TypeError, Code: code, Message: message}
}
