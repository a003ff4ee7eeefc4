package domain

import (
	"encoding/json"
	"fmt"
)

// Persisted payload schema version. Bump when a breaking field change lands
// and add a migration arm in the decode switch.
const payloadVersion = 1

// envelope wraps every persisted payload with its schema version. Decimal
// fields marshal as quoted strings, so values round-trip without binary
// float precision loss.
type envelope struct {
	Version int             `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

func marshalVersioned(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Version: payloadVersion, Payload: payload})
}

func unmarshalVersioned(data []byte, v any) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Version {
	case payloadVersion:
		return json.Unmarshal(env.Payload, v)
	default:
		return fmt.Errorf("%w: version %d", ErrUnsupportedVersion, env.Version)
	}
}

// MarshalStrategyConfig encodes a strategy config for persistence.
func MarshalStrategyConfig(c *StrategyConfig) ([]byte, error) {
	return marshalVersioned(c)
}

// UnmarshalStrategyConfig decodes a persisted strategy config.
func UnmarshalStrategyConfig(data []byte) (*StrategyConfig, error) {
	var c StrategyConfig
	if err := unmarshalVersioned(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// MarshalAllocationResult encodes an allocation result for persistence.
func MarshalAllocationResult(r *AllocationResult) ([]byte, error) {
	return marshalVersioned(r)
}

// UnmarshalAllocationResult decodes a persisted allocation result.
func UnmarshalAllocationResult(data []byte) (*AllocationResult, error) {
	var r AllocationResult
	if err := unmarshalVersioned(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// MarshalSimulationResult encodes a debt simulation result for persistence.
func MarshalSimulationResult(r *SimulationResult) ([]byte, error) {
	return marshalVersioned(r)
}

// UnmarshalSimulationResult decodes a persisted debt simulation result.
func UnmarshalSimulationResult(data []byte) (*SimulationResult, error) {
	var r SimulationResult
	if err := unmarshalVersioned(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
