package voice

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAPIKey indicates the vendor API key was not provided.
	ErrMissingAPIKey = errors.New("voice: API key is required")

	// ErrMissingAgentID indicates the ElevenLabs agent id was not provided.
	ErrMissingAgentID = errors.New("voice: agent ID is required")

	// ErrNotConnected indicates the transport has no live connection.
	ErrNotConnected = errors.New("voice: not connected")

	// ErrAlreadyConnected indicates Connect was called on a live transport.
	ErrAlreadyConnected = errors.New("voice: already connected")

	// ErrUnknownTransport indicates an unsupported transport kind.
	ErrUnknownTransport = errors.New("voice: unknown transport")
)

// APIError is an error event reported by the agent service.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("voice: API error [%s]: %s", e.Code, e.Message)
	}
	return "voice: API error: " + e.Message
}
