// Package errs defines the closed error-kind taxonomy shared by every
// component and the central handler invoked at framework boundaries.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one of the eight closed error categories the wire protocol can
// surface as error.code.
type Kind string

const (
	KindVersionMismatch       Kind = "VERSION_MISMATCH"
	KindRoomNotFound          Kind = "ROOM_NOT_FOUND"
	KindRoomFull              Kind = "ROOM_FULL"
	KindInvalidMessage        Kind = "INVALID_MESSAGE"
	KindInternal              Kind = "INTERNAL_ERROR"
	KindUploadNotAuthorized   Kind = "UPLOAD_NOT_AUTHORIZED"
	KindStateNotInitialized   Kind = "STATE_NOT_INITIALIZED"
	KindTimeout               Kind = "TIMEOUT"
)

// Error is the structured error type raised by every component. It
// implements error and Unwrap so it composes with errors.Is/errors.As.
type Error struct {
	Kind          Kind
	Context       map[string]any
	Message       string
	ClientVisible bool
	Cause         error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(" (cause: ")
		b.WriteString(e.Cause.Error())
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext returns a copy of e with ctx merged into its context map.
func (e *Error) WithContext(ctx map[string]any) *Error {
	merged := make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	cp := *e
	cp.Context = merged
	return &cp
}

func (e *Error) Visible() *Error {
	cp := *e
	cp.ClientVisible = true
	return &cp
}

// Wrap builds an internal-kind error with err attached as Cause, so
// errors.Is/errors.As still reach it. The store and compress packages wrap
// their driver and codec errors this way.
func Wrap(op string, err error, ctx map[string]any) *Error {
	if ctx == nil {
		ctx = map[string]any{}
	}
	ctx["operation"] = op
	return &Error{
		Kind:          KindInternal,
		Context:       ctx,
		Message:       fmt.Sprintf("%s failed", op),
		ClientVisible: false,
		Cause:         err,
	}
}

// AsRelayError unwraps err into *Error if possible, otherwise wraps it as
// an unvisible INTERNAL_ERROR — the "unknown exceptions caught by the
// handler" case.
func AsRelayError(err error) *Error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	return &Error{
		Kind:          KindInternal,
		Message:       err.Error(),
		ClientVisible: false,
		Cause:         err,
	}
}
