// Package stage defines the contract with the opaque work stages that do the
// actual page transformation. A stage accepts one payload and returns one
// result; its failures are observable only through error text.
package stage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Value is the schema-less payload/result type exchanged with a stage. It
// holds strings, numbers, booleans, []interface{} and
// map[string]interface{}, mirroring the JSON data model.
type Value = interface{}

// Stage is one opaque, potentially slow and unreliable external computation.
type Stage interface {
	Name() string
	Run(ctx context.Context, payload string) (Value, error)
}

// Func adapts a function to the Stage interface.
type Func struct {
	StageName string
	Fn        func(ctx context.Context, payload string) (Value, error)
}

// Name returns the stage name.
func (f Func) Name() string {
	return f.StageName
}

// Run invokes the wrapped function.
func (f Func) Run(ctx context.Context, payload string) (Value, error) {
	return f.Fn(ctx, payload)
}

// EncodePayload renders a payload value as the string form a stage accepts.
// String values pass through unchanged, everything else is JSON.
func EncodePayload(v Value) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(data), nil
}
