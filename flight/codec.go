package flight

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ObjectCodec serializes parameter-map values. The default is JSON; callers
// with their own wire format inject a replacement through the engine config.
type ObjectCodec interface {
	Marshal(v any) (string, error)
	Unmarshal(s string, dest any) error
}

// JSONCodec is the default ObjectCodec.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal flight value: %w", err)
	}
	return string(raw), nil
}

func (JSONCodec) Unmarshal(s string, dest any) error {
	if err := json.Unmarshal([]byte(s), dest); err != nil {
		return fmt.Errorf("unmarshal flight value: %w", err)
	}
	return nil
}

// ExceptionCodec serializes terminal flight errors into the journal and
// rebuilds them on read.
type ExceptionCodec interface {
	Encode(err error) (string, error)
	Decode(s string) (error, error)
}

type serializedException struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// JSONExceptionCodec is the default ExceptionCodec. It keeps the message and
// whether the error was tagged retryable; the concrete type does not survive.
type JSONExceptionCodec struct{}

func (JSONExceptionCodec) Encode(err error) (string, error) {
	if err == nil {
		return "", nil
	}
	raw, mErr := json.Marshal(serializedException{
		Message:   err.Error(),
		Retryable: errors.Is(err, ErrRetry),
	})
	if mErr != nil {
		return "", fmt.Errorf("encode flight exception: %w", mErr)
	}
	return string(raw), nil
}

func (JSONExceptionCodec) Decode(s string) (error, error) {
	if s == "" {
		return nil, nil
	}
	var se serializedException
	if err := json.Unmarshal([]byte(s), &se); err != nil {
		// Pre-codec rows may hold a bare message.
		return &RecoveredError{Message: s}, nil
	}
	return &RecoveredError{Message: se.Message}, nil
}
