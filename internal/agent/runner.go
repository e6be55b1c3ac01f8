package agent

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"

	"palaver/internal/llm"
	"palaver/internal/trace"
	"palaver/internal/transcript"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type RunnerOption func(*Runner)

func WithSystemPrompt(s string) RunnerOption {
	return func(r *Runner) { r.systemPrompt = s }
}

func WithRegistry(reg *Registry) RunnerOption {
	return func(r *Runner) { r.registry = reg }
}

// Runner streams one model answer per turn and services at most one tool
// call. The follow-up request after a tool call carries no tools, so the
// model cannot ask for a second one.
type Runner struct {
	provider     llm.Provider
	model        string
	systemPrompt string
	registry     *Registry
}

func NewRunner(provider llm.Provider, model string, opts ...RunnerOption) *Runner {
	r := &Runner{provider: provider, model: model}
	for _, opt := range opts {
		opt(r)
	}
	if r.registry == nil {
		r.registry = NewRegistry()
	}
	return r
}

func (r *Runner) Model() string { return r.model }

// pendingCall accumulates a streamed tool call. Argument chunks are
// concatenated in arrival order.
type pendingCall struct {
	name string
	args strings.Builder
}

func (p *pendingCall) merge(f llm.Fragment) {
	if p.name == "" && f.Name != "" {
		p.name = f.Name
	}
	p.args.WriteString(f.Arguments)
}

func (p *pendingCall) ready() bool {
	return p.name != "" && p.args.Len() > 0
}

// Run appends userText to t and streams the answer. Every opened stream is
// closed on all exit paths, including when the caller stops ranging early,
// and any accumulated text is appended to t as one assistant message.
func (r *Runner) Run(ctx context.Context, t *transcript.Transcript, userText string) iter.Seq2[PartialAnswer, error] {
	return func(yield func(PartialAnswer, error) bool) {
		sessionID := SessionIDFromContext(ctx)
		ctx, span := trace.Tracer().Start(ctx, "agent.run",
			oteltrace.WithAttributes(
				attribute.String("session.id", sessionID),
				attribute.String("run.id", RunIDFromContext(ctx)),
				attribute.String("llm.model", r.model),
			),
		)
		defer span.End()

		t.Append(transcript.User(userText))

		var reply strings.Builder
		defer func() {
			if reply.Len() > 0 {
				t.Append(transcript.Assistant(reply.String()))
			}
		}()

		err := r.turn(ctx, t, &reply, yield)
		if errors.Is(err, errStopped) {
			slog.Debug("agent.run: consumer stopped early", "session_id", sessionID)
			return
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Warn("agent.run failed", "session_id", sessionID, "model", r.model, "error", err)
			// Flush before the caller sees the error.
			if reply.Len() > 0 {
				t.Append(transcript.Assistant(reply.String()))
				reply.Reset()
			}
			yield(PartialAnswer{}, err)
		}
	}
}

var errStopped = errors.New("consumer stopped")

func (r *Runner) turn(ctx context.Context, t *transcript.Transcript, reply *strings.Builder, yield func(PartialAnswer, error) bool) error {
	stream, err := r.open(ctx, t, r.tools())
	if err != nil {
		return err
	}
	defer r.release(stream)

	var call pendingCall
	for stream.Next() {
		f := stream.Current()
		switch f.Kind {
		case llm.FragmentText:
			if f.Text == "" {
				continue
			}
			reply.WriteString(f.Text)
			if !yield(PartialAnswer{VisibleText: reply.String()}, nil) {
				return errStopped
			}
		case llm.FragmentToolCall:
			call.merge(f)
		case llm.FragmentToolCallDone:
			if !call.ready() {
				slog.Debug("agent.run: tool call completed without name or arguments", "name", call.name)
				continue
			}
			return r.dispatch(ctx, t, &call, reply, yield)
		case llm.FragmentEnd:
			return stream.Err()
		}
	}
	return stream.Err()
}

// dispatch runs the pending tool, records its output and relays one
// follow-up answer into a fresh buffer.
func (r *Runner) dispatch(ctx context.Context, t *transcript.Transcript, call *pendingCall, reply *strings.Builder, yield func(PartialAnswer, error) bool) error {
	args := call.args.String()
	slog.Debug("agent.run: dispatching tool", "tool", call.name, "arguments", args)

	result, err := r.registry.Invoke(ctx, call.name, args)
	if err != nil {
		return err
	}
	content, err := Content(result)
	if err != nil {
		return err
	}

	// Text streamed before the call keeps its place ahead of the tool output;
	// the follow-up answer starts a fresh buffer.
	if reply.Len() > 0 {
		t.Append(transcript.Assistant(reply.String()))
		reply.Reset()
	}
	t.Append(transcript.Function(call.name, content))

	// The notice only follows a call that bound and ran.
	if !yield(PartialAnswer{VisibleText: ProcessingNotice, Status: true}, nil) {
		return errStopped
	}

	followUp, err := r.open(ctx, t, nil)
	if err != nil {
		return err
	}
	defer r.release(followUp)

	for followUp.Next() {
		f := followUp.Current()
		switch f.Kind {
		case llm.FragmentText:
			if f.Text == "" {
				continue
			}
			reply.WriteString(f.Text)
			if !yield(PartialAnswer{VisibleText: reply.String()}, nil) {
				return errStopped
			}
		case llm.FragmentToolCall, llm.FragmentToolCallDone:
			slog.Debug("agent.run: ignoring tool call in follow-up response", "name", f.Name)
		case llm.FragmentEnd:
			return followUp.Err()
		}
	}
	return followUp.Err()
}

func (r *Runner) open(ctx context.Context, t *transcript.Transcript, tools []llm.Tool) (llm.Stream, error) {
	msgs := t.Messages()
	if r.systemPrompt != "" {
		msgs = append([]transcript.Message{transcript.System(r.systemPrompt)}, msgs...)
	}

	_, span := trace.Tracer().Start(ctx, "llm.stream",
		oteltrace.WithAttributes(
			attribute.String("llm.model", r.model),
			attribute.Int("llm.messages", len(msgs)),
			attribute.Int("llm.tools", len(tools)),
		),
	)
	defer span.End()

	stream, err := r.provider.ChatStream(ctx, llm.Request{
		Model:    r.model,
		Messages: msgs,
		Tools:    tools,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &llm.StreamError{Model: r.model, Err: err}
	}
	return stream, nil
}

func (r *Runner) release(s llm.Stream) {
	if err := s.Close(); err != nil {
		slog.Warn("closing stream failed", "model", r.model, "error", err)
	}
}

func (r *Runner) tools() []llm.Tool {
	descs := r.registry.Descriptors()
	if len(descs) == 0 {
		return nil
	}
	out := make([]llm.Tool, 0, len(descs))
	for _, d := range descs {
		out = append(out, llm.Tool{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Schema(),
		})
	}
	return out
}
