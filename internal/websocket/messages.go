package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/satriahrh/ditado/domain"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Client commands
const (
	MessageTypeToggleRecord MessageType = "toggle_record"
	MessageTypeSynthesize   MessageType = "synthesize"
	MessageTypeCancel       MessageType = "cancel"
	MessageTypeGetState     MessageType = "get_state"
	MessageTypePing         MessageType = "ping"
)

// Server replies. UI events are pushed with their own types (state, busy,
// transcript, workflow_step, error, playback).
const (
	MessageTypePong          MessageType = "pong"
	MessageTypeCommandResult MessageType = "command_result"
	MessageTypeError         MessageType = "error"
)

const maxTextLength = 5000

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id,omitempty"`
}

// CommandMessage carries toggle_record, cancel and get_state
type CommandMessage struct {
	BaseMessage
}

// SynthesizeMessage asks the server to speak Text
type SynthesizeMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// CommandResultMessage answers a client command
type CommandResultMessage struct {
	BaseMessage
	Command MessageType `json:"command"`
	Result  interface{} `json:"result,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses an incoming message into its typed form
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	if base.Timestamp == "" {
		base.Timestamp = time.Now().Format(time.RFC3339)
	}

	switch base.Type {
	case MessageTypeToggleRecord, MessageTypeCancel, MessageTypeGetState:
		return &CommandMessage{BaseMessage: base}, nil

	case MessageTypeSynthesize:
		var msg SynthesizeMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid synthesize message: %w", err)
		}
		msg.BaseMessage = base
		if err := v.validateSynthesize(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		msg.BaseMessage = base
		return &msg, nil

	case "":
		return nil, fmt.Errorf("message type is required")

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

func (v *MessageValidator) validateSynthesize(msg *SynthesizeMessage) error {
	if strings.TrimSpace(msg.Text) == "" {
		return fmt.Errorf("text is required")
	}
	if len(msg.Text) > maxTextLength {
		return fmt.Errorf("text must be at most %d bytes", maxTextLength)
	}
	return nil
}

func newBase(t MessageType, messageID string) BaseMessage {
	return BaseMessage{
		Type:      t,
		Timestamp: time.Now().Format(time.RFC3339),
		MessageID: messageID,
	}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError, ""),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreateWorkflowErrorMessage maps a workflow error to an error message coded by its kind
func CreateWorkflowErrorMessage(messageID string, err error) *ErrorMessage {
	code := string(domain.KindOf(err))
	if code == "" {
		code = "invalid_request"
	}
	msg := CreateErrorMessage(code, err.Error(), "")
	msg.MessageID = messageID
	return msg
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(messageID, data string) *PongMessage {
	return &PongMessage{
		BaseMessage: newBase(MessageTypePong, messageID),
		Data:        data,
	}
}

// CreateCommandResult creates the reply to a client command
func CreateCommandResult(messageID string, command MessageType, result interface{}) *CommandResultMessage {
	return &CommandResultMessage{
		BaseMessage: newBase(MessageTypeCommandResult, messageID),
		Command:     command,
		Result:      result,
	}
}
