// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"sync"

	"palaver/internal/llm"
)

// Provider replays one scripted response per ChatStream call. When the
// script runs out the last response is repeated.
type Provider struct {
	mu        sync.Mutex
	responses [][]llm.Fragment
	requests  []llm.Request
}

func NewProvider(responses ...[]llm.Fragment) *Provider {
	return &Provider{responses: responses}
}

// Reply is a response made of text fragments followed by End.
func Reply(parts ...string) []llm.Fragment {
	out := make([]llm.Fragment, 0, len(parts)+1)
	for _, p := range parts {
		out = append(out, llm.Text(p))
	}
	return append(out, llm.End())
}

func (p *Provider) ChatStream(_ context.Context, req llm.Request) (llm.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	i := len(p.requests) - 1
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	var frags []llm.Fragment
	if i >= 0 {
		frags = p.responses[i]
	}
	return &stream{frags: frags, pos: -1}, nil
}

func (p *Provider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.requests...)
}

type stream struct {
	frags []llm.Fragment
	pos   int
}

func (s *stream) Next() bool {
	s.pos++
	return s.pos < len(s.frags)
}

func (s *stream) Current() llm.Fragment { return s.frags[s.pos] }
func (s *stream) Err() error            { return nil }
func (s *stream) Close() error          { return nil }
