package llm

import (
	"context"
	"net/http"

	"palaver/internal/transcript"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client *openai.Client
}

func NewOpenAI(baseURL, apiKey string) *OpenAIProvider {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, option.WithHTTPClient(&http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}))
	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client}
}

func (o *OpenAIProvider) ChatStream(ctx context.Context, req Request) (Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: toMessageParams(req.Messages),
		Tools:    toToolParams(req.Tools),
	}
	return newChunkStream(o.client.Chat.Completions.NewStreaming(ctx, params), req.Model), nil
}

func toMessageParams(msgs []transcript.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case transcript.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case transcript.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case transcript.RoleFunction:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfFunction: &openai.ChatCompletionFunctionMessageParam{
					Name:    m.Name,
					Content: openai.String(m.Content),
				},
			})
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func toToolParams(tools []Tool) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  shared.FunctionParameters(t.Parameters),
		}))
	}
	return out
}

type chunkSource interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

// chunkStream flattens completion chunks into fragments. One chunk can carry
// several fragments, so they are queued until consumed.
type chunkStream struct {
	src     chunkSource
	model   string
	pending []Fragment
	cur     Fragment
	ended   bool
}

func newChunkStream(src chunkSource, model string) *chunkStream {
	return &chunkStream{src: src, model: model}
}

func (s *chunkStream) Next() bool {
	for len(s.pending) == 0 {
		if s.ended || !s.src.Next() {
			return false
		}
		s.pending = chunkFragments(s.src.Current())
	}
	s.cur = s.pending[0]
	s.pending = s.pending[1:]
	if s.cur.Kind == FragmentEnd {
		s.ended = true
		s.pending = nil
	}
	return true
}

func (s *chunkStream) Current() Fragment { return s.cur }

func (s *chunkStream) Err() error {
	if err := s.src.Err(); err != nil {
		return &StreamError{Model: s.model, Err: err}
	}
	return nil
}

func (s *chunkStream) Close() error { return s.src.Close() }

func chunkFragments(chunk openai.ChatCompletionChunk) []Fragment {
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]

	var out []Fragment
	for _, tc := range choice.Delta.ToolCalls {
		if tc.Function.Name != "" || tc.Function.Arguments != "" {
			out = append(out, ToolCall(tc.Function.Name, tc.Function.Arguments))
		}
	}
	if choice.Delta.Content != "" {
		out = append(out, Text(choice.Delta.Content))
	}

	switch choice.FinishReason {
	case "":
	case "tool_calls", "function_call":
		out = append(out, ToolCallDone())
	default:
		out = append(out, End())
	}
	return out
}
