package process

import (
	"context"
)

// Reporter is the capability a running process uses to surface progress.
// Implementations persist the update to the job store; processes only
// see this narrow interface.
type Reporter interface {
	// Report records a progress update. Percent is clamped to [0, 100];
	// an empty message leaves the previous message untouched.
	Report(ctx context.Context, message string, percent int)
}

// Process is an executable computational capability. Implementations
// declare their interface via Describe and perform the actual
// computation in Execute.
//
// Execute receives schema-validated inputs and must return the full
// output set named in the description. Cooperative cancellation is
// signaled through ctx: a dismissed job cancels the context between
// progress updates, and well-behaved processes return ctx.Err() when
// they observe it.
type Process interface {
	Describe() Description
	Execute(ctx context.Context, inputs map[string]any, progress Reporter) (map[string]any, error)
}

// Description is the OGC-style process description: identifier,
// metadata, and the declared input/output schemas.
type Description struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Version     string                 `json:"version"`
	Inputs      map[string]InputSpec   `json:"inputs"`
	Outputs     map[string]OutputSpec  `json:"outputs"`
}

// InputSpec declares one input parameter. MinOccurs > 0 marks the
// input required.
type InputSpec struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	MinOccurs   int         `json:"minOccurs"`
	MaxOccurs   int         `json:"maxOccurs,omitempty"`
	Schema      ValueSchema `json:"schema"`
}

// OutputSpec declares one output field.
type OutputSpec struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Schema      ValueSchema `json:"schema"`
}

// ValueSchema is the subset of JSON schema the validator understands.
type ValueSchema struct {
	Type string `json:"type,omitempty"`
}
