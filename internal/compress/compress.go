// Package compress wraps and unwraps opaque JSON payloads behind a
// pluggable codec with a method tag, gated by a size threshold.
package compress

import (
	"encoding/json"
	"fmt"

	"github.com/graphrelay/relay/internal/errs"
	"github.com/graphrelay/relay/internal/protocol"
)

// Provider is the capability abstraction a concrete codec implements.
type Provider interface {
	Method() string
	Compress(raw []byte) ([]byte, error)
	Decompress(raw []byte) ([]byte, error)
}

// Manager compresses payloads above a configured threshold and always
// tags the stored bytes with the method used, so "none" and real codecs
// round-trip through the same envelope.
type Manager struct {
	provider  Provider
	threshold int
}

func NewManager(provider Provider, threshold int) *Manager {
	return &Manager{provider: provider, threshold: threshold}
}

// Compress encodes v as JSON and, if the encoded length meets or exceeds
// the threshold, runs it through the active provider. Payloads strictly
// under the threshold are stored as method "none".
func (m *Manager) Compress(v any) (protocol.CompressedPayload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return protocol.CompressedPayload{}, errs.Wrap("compress.marshal", err, nil)
	}
	if len(raw) < m.threshold {
		return protocol.CompressedPayload{Method: "none", Data: raw}, nil
	}
	compressed, err := m.provider.Compress(raw)
	if err != nil {
		return protocol.CompressedPayload{}, errs.Wrap("compress.encode", err, map[string]any{"method": m.provider.Method()})
	}
	return protocol.CompressedPayload{Method: m.provider.Method(), Data: compressed}, nil
}

// Decompress reverses Compress into target. It fails with an internal
// error if the stored method tag does not match the active provider
// (unless the tag is "none", which is always understood).
func (m *Manager) Decompress(payload protocol.CompressedPayload, target any) error {
	raw, err := m.rawBytes(payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return errs.Wrap("compress.unmarshal", err, map[string]any{"method": payload.Method})
	}
	return nil
}

func (m *Manager) rawBytes(payload protocol.CompressedPayload) ([]byte, error) {
	if payload.Method == "none" {
		return payload.Data, nil
	}
	if payload.Method != m.provider.Method() {
		return nil, &errs.Error{
			Kind:    errs.KindInternal,
			Message: fmt.Sprintf("compression method mismatch: stored %q, active %q", payload.Method, m.provider.Method()),
			Context: map[string]any{"operation": "compress.decompress", "storedMethod": payload.Method, "activeMethod": m.provider.Method()},
		}
	}
	raw, err := m.provider.Decompress(payload.Data)
	if err != nil {
		return nil, errs.Wrap("compress.decode", err, map[string]any{"method": payload.Method})
	}
	return raw, nil
}
