package messages

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Client message types. Text frames carry exactly one of these; binary
// frames carry raw PCM audio and never appear here.
const (
	TypeSettings             = "Settings"
	TypeInjectUserMessage    = "InjectUserMessage"
	TypeUpdatePrompt         = "UpdatePrompt"
	TypeUpdateSpeak          = "UpdateSpeak"
	TypeInjectAgentMessage   = "InjectAgentMessage"
	TypeFunctionCallResponse = "FunctionCallResponse"
	TypeKeepAlive            = "KeepAlive"
	TypeClose                = "Close"
)

// ClientMessage is the decoded form of one inbound control message.
// Which payload fields are meaningful depends on Type.
type ClientMessage struct {
	Type string `json:"type"`

	// Settings
	Audio *AudioSettings `json:"audio,omitempty"`
	Agent *AgentSettings `json:"agent,omitempty"`

	// UpdatePrompt
	Prompt string `json:"prompt,omitempty"`

	// UpdateSpeak
	Speak *SpeakSettings `json:"speak,omitempty"`

	// InjectUserMessage / FunctionCallResponse result payload
	Content string `json:"content,omitempty"`

	// InjectAgentMessage
	Message string `json:"message,omitempty"`

	// FunctionCallResponse
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error,omitempty"`
}

// AudioSettings declares the PCM shape of both directions.
type AudioSettings struct {
	Input  *AudioFormat `json:"input,omitempty"`
	Output *AudioFormat `json:"output,omitempty"`
}

type AudioFormat struct {
	Encoding   string `json:"encoding,omitempty"` // "linear16"
	SampleRate int    `json:"sample_rate,omitempty"`
}

// AgentSettings configures the conversational agent.
type AgentSettings struct {
	Language string         `json:"language,omitempty"`
	Think    *ThinkSettings `json:"think,omitempty"`
	Speak    *SpeakSettings `json:"speak,omitempty"`
	Greeting string         `json:"greeting,omitempty"`
}

// ThinkSettings carries the instructions and the function declarations
// the agent may call. Functions are executed by the application backend,
// never by the proxy.
type ThinkSettings struct {
	Prompt    string         `json:"prompt,omitempty"`
	Functions []FunctionDecl `json:"functions,omitempty"`
	Provider  map[string]any `json:"provider,omitempty"`
}

type FunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// SpeakSettings selects the synthesized voice.
type SpeakSettings struct {
	Voice    string         `json:"voice,omitempty"`
	Model    string         `json:"model,omitempty"`
	Provider map[string]any `json:"provider,omitempty"`
}

// DecodeClient parses one text frame into a ClientMessage. An unknown or
// missing type is an error; malformed messages are never silently dropped.
func DecodeClient(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid client message: %w", err)
	}
	switch msg.Type {
	case TypeSettings, TypeInjectUserMessage, TypeUpdatePrompt, TypeUpdateSpeak,
		TypeInjectAgentMessage, TypeFunctionCallResponse, TypeKeepAlive, TypeClose:
		return &msg, nil
	case "":
		return nil, fmt.Errorf("client message missing type")
	default:
		return nil, fmt.Errorf("unknown client message type: %s", msg.Type)
	}
}

// ContentBearing reports whether the message carries conversation content
// and therefore must be held until the upstream session is configured.
func (m *ClientMessage) ContentBearing() bool {
	switch m.Type {
	case TypeInjectUserMessage, TypeInjectAgentMessage, TypeFunctionCallResponse:
		return true
	default:
		return false
	}
}
