package protocol

import (
	"encoding/json"
	"fmt"
)

// Smallest sequence a client may send: the flush barrier.
const minSequence = -2

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeTerminalCreate:   true,
	TypeSessionCreate:    true,
	TypeSessionStart:     true,
	TypeConsoleInput:     true,
	TypeTerminalResize:   true,
	TypeConsoleInterrupt: true,
	TypeSessionRemove:    true,
}

// ValidateClientMessage validates a raw JSON message from a client.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if msg.Payload == nil {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	var v validator
	switch msg.Type {
	case TypeTerminalCreate:
		v = &TerminalCreatePayload{}
	case TypeSessionCreate:
		v = &SessionCreatePayload{}
	case TypeConsoleInput:
		v = &ConsoleInputPayload{}
	case TypeTerminalResize:
		v = &TerminalResizePayload{}
	case TypeConsoleInterrupt:
		v = &ConsoleInterruptPayload{}
	case TypeSessionStart, TypeSessionRemove:
		v = &HandlePayload{}
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
	}
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("%w in %s payload", err, msg.Type)
	}

	return &msg, nil
}

type validator interface {
	Validate() error
}

func (p *TerminalCreatePayload) Validate() error {
	if p.Cols < 0 || p.Rows < 0 {
		return fmt.Errorf("invalid geometry %dx%d", p.Cols, p.Rows)
	}
	if p.TerminalSequence < 0 {
		return fmt.Errorf("invalid 'terminalSequence' %d", p.TerminalSequence)
	}
	return nil
}

func (p *SessionCreatePayload) Validate() error {
	switch {
	case p.Command == "" && p.Program == "":
		return fmt.Errorf("one of 'command' or 'program' is required")
	case p.Command != "" && p.Program != "":
		return fmt.Errorf("'command' and 'program' are exclusive")
	case p.Command != "" && len(p.Args) > 0:
		return fmt.Errorf("'args' requires 'program'")
	}
	return nil
}

func (p *ConsoleInputPayload) Validate() error {
	if p.Handle == "" {
		return fmt.Errorf("missing required field 'handle'")
	}
	if p.Sequence != nil && *p.Sequence < minSequence {
		return fmt.Errorf("invalid 'sequence' %d", *p.Sequence)
	}
	return nil
}

func (p *TerminalResizePayload) Validate() error {
	if p.Handle == "" {
		return fmt.Errorf("missing required field 'handle'")
	}
	if p.Cols <= 0 || p.Rows <= 0 {
		return fmt.Errorf("invalid geometry %dx%d", p.Cols, p.Rows)
	}
	return nil
}

func (p *ConsoleInterruptPayload) Validate() error {
	if p.Handle == "" {
		return fmt.Errorf("missing required field 'handle'")
	}
	return nil
}

func (p *HandlePayload) Validate() error {
	if p.Handle == "" {
		return fmt.Errorf("missing required field 'handle'")
	}
	return nil
}

// DecodePayload unmarshals a validated message's payload into dst.
func DecodePayload(msg *Message, dst interface{}) error {
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		return fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
	}
	return nil
}

// NewErrorMessage creates an error message ready to send to the client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
