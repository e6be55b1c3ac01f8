package agent

import (
	"context"
	"errors"
	"testing"

	"palaver/internal/llm"
	"palaver/internal/transcript"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	frags  []llm.Fragment
	err    error
	i      int
	closed int
}

func (s *fakeStream) Next() bool {
	if s.i >= len(s.frags) {
		return false
	}
	s.i++
	return true
}

func (s *fakeStream) Current() llm.Fragment { return s.frags[s.i-1] }

func (s *fakeStream) Err() error {
	if s.i >= len(s.frags) {
		return s.err
	}
	return nil
}

func (s *fakeStream) Close() error {
	s.closed++
	return nil
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) ChatStream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	args := m.Called(ctx, req)
	s, _ := args.Get(0).(llm.Stream)
	return s, args.Error(1)
}

func withTools(req llm.Request) bool    { return len(req.Tools) > 0 }
func withoutTools(req llm.Request) bool { return len(req.Tools) == 0 }

func collect(seq func(func(PartialAnswer, error) bool)) ([]PartialAnswer, error) {
	var out []PartialAnswer
	var last error
	for pa, err := range seq {
		if err != nil {
			last = err
			continue
		}
		out = append(out, pa)
	}
	return out, last
}

func texts(pas []PartialAnswer) []string {
	out := make([]string, len(pas))
	for i, pa := range pas {
		out[i] = pa.VisibleText
	}
	return out
}

func TestRunConcatenatesText(t *testing.T) {
	stream := &fakeStream{frags: []llm.Fragment{
		llm.Text("Hel"), llm.Text(""), llm.Text("lo"), llm.Text(", world"), llm.End(), llm.Text("after end"),
	}}
	p := new(mockProvider)
	p.On("ChatStream", mock.Anything, mock.Anything).Return(stream, nil).Once()

	tr := transcript.New()
	r := NewRunner(p, "llama3-8b-8192", WithSystemPrompt("be kind"))

	pas, err := collect(r.Run(context.Background(), tr, "hi"))
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "Hello", "Hello, world"}, texts(pas))
	assert.Equal(t, []transcript.Message{
		transcript.User("hi"),
		transcript.Assistant("Hello, world"),
	}, tr.Messages())
	assert.Equal(t, 1, stream.closed)

	req := p.Calls[0].Arguments.Get(1).(llm.Request)
	assert.Equal(t, "llama3-8b-8192", req.Model)
	assert.Equal(t, []transcript.Message{transcript.System("be kind"), transcript.User("hi")}, req.Messages)
	p.AssertExpectations(t)
}

func TestRunDoesNotFlushEmptyReply(t *testing.T) {
	stream := &fakeStream{frags: []llm.Fragment{llm.Text(""), llm.End()}}
	p := new(mockProvider)
	p.On("ChatStream", mock.Anything, mock.Anything).Return(stream, nil)

	tr := transcript.New()
	pas, err := collect(NewRunner(p, "m").Run(context.Background(), tr, "hi"))

	require.NoError(t, err)
	assert.Empty(t, pas)
	assert.Equal(t, []transcript.Message{transcript.User("hi")}, tr.Messages())
}

func todayRegistry(t *testing.T, calls *int) *Registry {
	t.Helper()
	reg := NewRegistry()
	_, err := reg.Register("today", "Return the current date and time in ISO format.",
		func(context.Context, Args) (any, error) {
			*calls++
			return "2026-10-18T09:30:00Z", nil
		})
	require.NoError(t, err)
	return reg
}

func TestRunDispatchesToolOnce(t *testing.T) {
	first := &fakeStream{frags: []llm.Fragment{
		llm.ToolCall("today", ""),
		llm.ToolCall("", "{"),
		llm.ToolCall("", "}"),
		llm.ToolCallDone(),
	}}
	followUp := &fakeStream{frags: []llm.Fragment{
		llm.Text("Today is "),
		llm.Text("October 18, 2026."),
		llm.ToolCall("today", "{}"),
		llm.ToolCallDone(),
		llm.End(),
	}}
	p := new(mockProvider)
	p.On("ChatStream", mock.Anything, mock.MatchedBy(withTools)).Return(first, nil).Once()
	p.On("ChatStream", mock.Anything, mock.MatchedBy(withoutTools)).Return(followUp, nil).Once()

	var calls int
	tr := transcript.New()
	r := NewRunner(p, "gpt-4o", WithRegistry(todayRegistry(t, &calls)))

	pas, err := collect(r.Run(context.Background(), tr, "what's today's date"))
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	require.NotEmpty(t, pas)
	assert.Equal(t, PartialAnswer{VisibleText: ProcessingNotice, Status: true}, pas[0])
	assert.Equal(t, []string{ProcessingNotice, "Today is ", "Today is October 18, 2026."}, texts(pas))

	assert.Equal(t, []transcript.Message{
		transcript.User("what's today's date"),
		transcript.Function("today", "2026-10-18T09:30:00Z"),
		transcript.Assistant("Today is October 18, 2026."),
	}, tr.Messages())

	assert.Equal(t, 1, first.closed)
	assert.Equal(t, 1, followUp.closed)

	followReq := p.Calls[1].Arguments.Get(1).(llm.Request)
	assert.Equal(t, transcript.Function("today", "2026-10-18T09:30:00Z"), followReq.Messages[len(followReq.Messages)-1])
	p.AssertExpectations(t)
}

func TestRunReassemblesChunkedArguments(t *testing.T) {
	chunks := []string{`{"prod`, `uct_id"`, `: "SKU-`, `12345"}`}
	frags := []llm.Fragment{llm.ToolCall("get_product_details", "")}
	for _, c := range chunks {
		frags = append(frags, llm.ToolCall("", c))
	}
	frags = append(frags, llm.ToolCallDone())

	p := new(mockProvider)
	p.On("ChatStream", mock.Anything, mock.MatchedBy(withTools)).Return(&fakeStream{frags: frags}, nil)
	p.On("ChatStream", mock.Anything, mock.MatchedBy(withoutTools)).Return(&fakeStream{frags: []llm.Fragment{llm.Text("ok")}}, nil)

	var got Args
	reg := NewRegistry()
	_, err := reg.Register("get_product_details", "Get product details by product ID.",
		func(_ context.Context, args Args) (any, error) {
			got = args
			return map[string]any{"product_id": args.String("product_id"), "price": 100.0}, nil
		},
		String("product_id", "Product ID, ex.: 'SKU-12345'"),
	)
	require.NoError(t, err)

	tr := transcript.New()
	_, err = collect(NewRunner(p, "gpt-4o", WithRegistry(reg)).Run(context.Background(), tr, "details for SKU-12345"))
	require.NoError(t, err)

	assert.Equal(t, "SKU-12345", got.String("product_id"))
	msgs := tr.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, transcript.RoleFunction, msgs[1].Role)
	assert.JSONEq(t, `{"product_id":"SKU-12345","price":100}`, msgs[1].Content)
}

func TestRunSkipsToolCallWithoutArguments(t *testing.T) {
	stream := &fakeStream{frags: []llm.Fragment{
		llm.ToolCall("today", ""),
		llm.ToolCallDone(),
		llm.Text("I could not call the tool."),
		llm.End(),
	}}
	p := new(mockProvider)
	p.On("ChatStream", mock.Anything, mock.Anything).Return(stream, nil).Once()

	var calls int
	tr := transcript.New()
	pas, err := collect(NewRunner(p, "gpt-4o", WithRegistry(todayRegistry(t, &calls))).Run(context.Background(), tr, "date?"))

	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.Equal(t, []string{"I could not call the tool."}, texts(pas))
	p.AssertNumberOfCalls(t, "ChatStream", 1)
}

func TestRunFlushesPartialTextOnStreamError(t *testing.T) {
	boom := &llm.StreamError{Model: "m", Err: errors.New("connection reset")}
	stream := &fakeStream{frags: []llm.Fragment{llm.Text("Hel"), llm.Text("lo")}, err: boom}
	p := new(mockProvider)
	p.On("ChatStream", mock.Anything, mock.Anything).Return(stream, nil)

	tr := transcript.New()
	pas, err := collect(NewRunner(p, "m").Run(context.Background(), tr, "hi"))

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"Hel", "Hello"}, texts(pas))
	assert.Equal(t, []transcript.Message{transcript.User("hi"), transcript.Assistant("Hello")}, tr.Messages())
	assert.Equal(t, 1, stream.closed)
}

func TestRunPropagatesToolErrors(t *testing.T) {
	tests := []struct {
		name  string
		call  llm.Fragment
		check func(t *testing.T, err error)
	}{
		{
			name: "unknown tool",
			call: llm.ToolCall("launch_rockets", "{}"),
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrToolNotFound)
			},
		},
		{
			name: "bad arguments",
			call: llm.ToolCall("today", `{"when":`),
			check: func(t *testing.T, err error) {
				var de *ArgumentDecodeError
				assert.ErrorAs(t, err, &de)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := &fakeStream{frags: []llm.Fragment{llm.Text("Let me check."), tt.call, llm.ToolCallDone()}}
			p := new(mockProvider)
			p.On("ChatStream", mock.Anything, mock.Anything).Return(stream, nil).Once()

			var calls int
			tr := transcript.New()
			pas, err := collect(NewRunner(p, "gpt-4o", WithRegistry(todayRegistry(t, &calls))).Run(context.Background(), tr, "date?"))

			tt.check(t, err)
			assert.Equal(t, []string{"Let me check."}, texts(pas), "no processing notice for a call that never ran")
			assert.Zero(t, calls)
			assert.Equal(t, 1, stream.closed)
			assert.Equal(t, []transcript.Message{transcript.User("date?"), transcript.Assistant("Let me check.")}, tr.Messages())
		})
	}
}

func TestRunReleasesStreamWhenConsumerStops(t *testing.T) {
	stream := &fakeStream{frags: []llm.Fragment{llm.Text("one"), llm.Text(" two"), llm.Text(" three")}}
	p := new(mockProvider)
	p.On("ChatStream", mock.Anything, mock.Anything).Return(stream, nil)

	tr := transcript.New()
	for pa, err := range NewRunner(p, "m").Run(context.Background(), tr, "count") {
		require.NoError(t, err)
		if pa.VisibleText == "one two" {
			break
		}
	}

	assert.Equal(t, 1, stream.closed)
	assert.Equal(t, []transcript.Message{transcript.User("count"), transcript.Assistant("one two")}, tr.Messages())
}

func TestRunReleasesBothStreamsWhenConsumerStopsDuringFollowUp(t *testing.T) {
	first := &fakeStream{frags: []llm.Fragment{llm.ToolCall("today", "{}"), llm.ToolCallDone()}}
	followUp := &fakeStream{frags: []llm.Fragment{llm.Text("It is"), llm.Text(" Sunday")}}
	p := new(mockProvider)
	p.On("ChatStream", mock.Anything, mock.MatchedBy(withTools)).Return(first, nil)
	p.On("ChatStream", mock.Anything, mock.MatchedBy(withoutTools)).Return(followUp, nil)

	var calls int
	tr := transcript.New()
	for pa := range NewRunner(p, "m", WithRegistry(todayRegistry(t, &calls))).Run(context.Background(), tr, "day?") {
		if pa.VisibleText == "It is" {
			break
		}
	}

	assert.Equal(t, 1, first.closed)
	assert.Equal(t, 1, followUp.closed)
	assert.Equal(t, transcript.Assistant("It is"), tr.Messages()[tr.Len()-1])
}

func TestRunNoticeFollowsFunctionMessage(t *testing.T) {
	first := &fakeStream{frags: []llm.Fragment{llm.ToolCall("today", "{}"), llm.ToolCallDone()}}
	p := new(mockProvider)
	p.On("ChatStream", mock.Anything, mock.MatchedBy(withTools)).Return(first, nil).Once()

	var calls int
	tr := transcript.New()
	for pa := range NewRunner(p, "m", WithRegistry(todayRegistry(t, &calls))).Run(context.Background(), tr, "day?") {
		require.True(t, pa.Status)
		break
	}

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, first.closed)
	require.Equal(t, 2, tr.Len())
	assert.Equal(t, transcript.RoleFunction, tr.Messages()[1].Role)
	p.AssertNumberOfCalls(t, "ChatStream", 1)
}

func TestRunOpenFailure(t *testing.T) {
	p := new(mockProvider)
	p.On("ChatStream", mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: refused"))

	tr := transcript.New()
	_, err := collect(NewRunner(p, "m").Run(context.Background(), tr, "hi"))

	var se *llm.StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []transcript.Message{transcript.User("hi")}, tr.Messages())
}
