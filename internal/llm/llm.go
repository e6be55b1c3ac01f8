package llm

import (
	"context"
	"fmt"

	"palaver/internal/transcript"
)

// Tool is the function declaration sent with a request.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type Request struct {
	Model    string
	Messages []transcript.Message
	Tools    []Tool
}

type FragmentKind int

const (
	// FragmentText carries a piece of visible assistant text.
	FragmentText FragmentKind = iota
	// FragmentToolCall carries a piece of a tool call name and/or arguments.
	FragmentToolCall
	// FragmentToolCallDone signals that the model finished emitting a tool call.
	FragmentToolCallDone
	// FragmentEnd signals that the response is complete.
	FragmentEnd
)

func (k FragmentKind) String() string {
	switch k {
	case FragmentText:
		return "text"
	case FragmentToolCall:
		return "tool_call"
	case FragmentToolCallDone:
		return "tool_call_done"
	case FragmentEnd:
		return "end"
	default:
		return fmt.Sprintf("FragmentKind(%d)", int(k))
	}
}

// Fragment is one incremental piece of a streamed response.
type Fragment struct {
	Kind      FragmentKind
	Text      string
	Name      string
	Arguments string
}

func Text(s string) Fragment { return Fragment{Kind: FragmentText, Text: s} }

func ToolCall(name, args string) Fragment {
	return Fragment{Kind: FragmentToolCall, Name: name, Arguments: args}
}

func ToolCallDone() Fragment { return Fragment{Kind: FragmentToolCallDone} }
func End() Fragment          { return Fragment{Kind: FragmentEnd} }

// Stream yields fragments in arrival order. Close releases the underlying
// connection and must be called once the caller is done with the stream.
type Stream interface {
	Next() bool
	Current() Fragment
	Err() error
	Close() error
}

type Provider interface {
	ChatStream(ctx context.Context, req Request) (Stream, error)
}

// StreamError wraps transport and decoding faults of a streamed response.
type StreamError struct {
	Model string
	Err   error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Model, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }
