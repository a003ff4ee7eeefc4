// Package protocol maps raw per-protocol feed payloads onto the canonical
// market state. The engine never imports this package; adapters live at the
// ingestion and normalization boundary.
package protocol

import (
	"errors"
	"fmt"

	"lending-lab/internal/domain"
)

var (
	// ErrUnknownProtocol indicates no adapter is registered for a protocol.
	ErrUnknownProtocol = errors.New("unknown protocol")

	// ErrMalformedPayload indicates a payload an adapter cannot decode.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Adapter normalizes one raw protocol payload into a market state.
type Adapter interface {
	// Protocol returns the identifier this adapter handles.
	Protocol() string

	// Normalize decodes payload into the canonical snapshot for marketID
	// observed at ts.
	Normalize(marketID string, ts int64, payload []byte) (*domain.MarketState, error)
}

// Registry dispatches payloads to protocol adapters.
type Registry struct {
	adapters map[string]Adapter // protocol -> adapter
}

// NewRegistry creates a registry with the default adapters registered.
func NewRegistry() *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter),
	}

	r.Register(NewMorphoAdapter())
	r.Register(NewAaveAdapter())

	return r
}

// Register registers an adapter under its protocol identifier.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Protocol()] = a
}

// Lookup returns the adapter for a protocol.
func (r *Registry) Lookup(protocol string) (Adapter, error) {
	a, ok := r.adapters[protocol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, protocol)
	}
	return a, nil
}

// Normalize dispatches one payload to the adapter for its protocol.
func (r *Registry) Normalize(protocol, marketID string, ts int64, payload []byte) (*domain.MarketState, error) {
	a, err := r.Lookup(protocol)
	if err != nil {
		return nil, err
	}
	return a.Normalize(marketID, ts, payload)
}
