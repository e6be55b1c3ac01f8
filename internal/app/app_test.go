package app

import (
	"context"
	"path/filepath"
	"testing"

	"palaver/internal/config"
	"palaver/internal/llm"
	"palaver/internal/llm/llmtest"
	"palaver/internal/transcript"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Store.Dir = t.TempDir()
	cfg.Store.DBPath = filepath.Join(t.TempDir(), "palaver.db")
	cfg.SystemPrompt = "You are {{ model }}."
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, p llm.Provider) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, WithProviderFunc(func(*config.LLMConfig) llm.Provider { return p }))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func drain(t *testing.T, a *App, id, text string) string {
	t.Helper()
	var last string
	for answer, err := range a.Sessions.Send(context.Background(), id, text) {
		require.NoError(t, err)
		last = answer.VisibleText
	}
	return last
}

func TestRunnerAttachesToolsOnlyWhenSupported(t *testing.T) {
	p := llmtest.NewProvider(llmtest.Reply("ok"))
	a := newApp(t, testConfig(t), p)

	s, err := a.Sessions.New(context.Background(), "llama3-8b")
	require.NoError(t, err)
	drain(t, a, s.ID, "hi")

	_, err = a.Sessions.SwitchModel(s.ID, "gpt-4o", true)
	require.NoError(t, err)
	drain(t, a, s.ID, "again")

	reqs := p.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "llama3-8b-8192", reqs[0].Model)
	assert.Empty(t, reqs[0].Tools)
	assert.Equal(t, transcript.System("You are llama3-8b-8192."), reqs[0].Messages[0])

	assert.Equal(t, "gpt-4o", reqs[1].Model)
	assert.Len(t, reqs[1].Tools, 4, "web_search needs a Brave key")

	_, err = a.Runner("nope")
	assert.Error(t, err)
}

func TestJSONLStorePersistsTurns(t *testing.T) {
	cfg := testConfig(t)
	a := newApp(t, cfg, llmtest.NewProvider(llmtest.Reply("Hel", "lo")))

	s, err := a.Sessions.New(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Hello", drain(t, a, s.ID, "hi"))

	msgs, err := transcript.NewFileStore(cfg.Store.Dir).Load(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, []transcript.Message{transcript.User("hi"), transcript.Assistant("Hello")}, msgs)
}

func TestSQLiteStorePersistsAtClose(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "sqlite"
	cfg.Store.Persist = "end"
	ctx := context.Background()

	a, err := New(ctx, cfg, WithProviderFunc(func(*config.LLMConfig) llm.Provider {
		return llmtest.NewProvider(llmtest.Reply("Hello"))
	}))
	require.NoError(t, err)
	s, err := a.Sessions.New(context.Background(), "")
	require.NoError(t, err)
	drain(t, a, s.ID, "hi")
	require.NoError(t, a.Close(ctx))

	b := newApp(t, cfg, llmtest.NewProvider(llmtest.Reply("unused")))
	ids, err := b.Sessions.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{s.ID}, ids)

	reopened, err := b.Sessions.Open(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []transcript.Message{transcript.User("hi"), transcript.Assistant("Hello")}, reopened.Messages())
}
