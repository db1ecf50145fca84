package errs

import (
	"errors"

	"go.uber.org/zap"
)

// Handler is the central error handler invoked at every framework boundary
// named in the error handling design: connection open/message/close,
// scheduled timer callbacks, and command application failures.
type Handler struct {
	log *zap.Logger
}

func NewHandler(log *zap.Logger) *Handler {
	return &Handler{log: log}
}

// Frame is the wire shape of an error{} frame sent to a client.
type Frame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Handle logs a structured line for err merged with extra context and, if
// the error is client-visible, returns the error frame to send back on the
// originating socket. Non-visible errors return a nil frame.
func (h *Handler) Handle(err error, extra map[string]any) *Frame {
	re := AsRelayError(err)
	re = re.WithContext(extra)

	fields := []zap.Field{
		zap.String("code", string(re.Kind)),
		zap.Bool("client_visible", re.ClientVisible),
		zap.Any("context", re.Context),
		zap.Stack("stack"),
	}

	var cause error = re.Cause
	depth := 0
	for cause != nil && depth < 16 {
		fields = append(fields, zap.String("cause", cause.Error()))
		cause = errors.Unwrap(cause)
		depth++
	}

	if re.ClientVisible {
		h.log.Warn(re.Message, fields...)
	} else {
		h.log.Error(re.Message, fields...)
	}

	if !re.ClientVisible {
		return nil
	}
	return &Frame{Type: "error", Message: re.Message, Code: string(re.Kind)}
}
