package agent

import (
	"context"
	"iter"

	"palaver/internal/transcript"
)

// ProcessingNotice is shown while a tool call is being executed.
const ProcessingNotice = "Hold a moment, I am processing your request..."

// PartialAnswer is the cumulative visible text of the answer being streamed.
// Status answers are transient notices, not model text.
type PartialAnswer struct {
	VisibleText string `json:"text"`
	Status      bool   `json:"status,omitempty"`
}

// Turner runs one user turn against a transcript. The returned sequence
// yields partial answers as fragments arrive and, on failure, a final
// zero PartialAnswer with the error.
type Turner interface {
	Run(ctx context.Context, t *transcript.Transcript, userText string) iter.Seq2[PartialAnswer, error]
}
