package process

import (
	"context"
	"strings"
)

// Echo is a minimal example process: it uppercases the input text and
// reports its length. It doubles as the fixture for integration-style
// tests of the execution engine.
type Echo struct{}

func (Echo) Describe() Description {
	return Description{
		ID:          "echo",
		Title:       "Echo",
		Description: "Returns the input text uppercased, with its length.",
		Version:     "1.0.0",
		Inputs: map[string]InputSpec{
			"text": {
				Title:     "Input text",
				MinOccurs: 1,
				Schema:    ValueSchema{Type: "string"},
			},
		},
		Outputs: map[string]OutputSpec{
			"output_text": {
				Title:  "Uppercased text",
				Schema: ValueSchema{Type: "string"},
			},
			"length": {
				Title:  "Input length",
				Schema: ValueSchema{Type: "number"},
			},
		},
	}
}

func (Echo) Execute(ctx context.Context, inputs map[string]any, progress Reporter) (map[string]any, error) {
	text, _ := inputs["text"].(string)
	progress.Report(ctx, "echoing input", 50)
	return map[string]any{
		"output_text": strings.ToUpper(text),
		"length":      len(text),
	}, nil
}
