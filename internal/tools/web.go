package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"palaver/internal/agent"

	bravesearch "github.com/cnosuke/go-brave-search"
)

type searchResult struct {
	Title       string
	URL         string
	Description string
}

type WebSearch struct {
	search func(ctx context.Context, query string, count int) ([]searchResult, error)
}

func NewWebSearch(braveAPIKey string) (*WebSearch, error) {
	client, err := bravesearch.NewClient(braveAPIKey)
	if err != nil {
		return nil, fmt.Errorf("creating brave client: %w", err)
	}
	return &WebSearch{search: func(ctx context.Context, query string, count int) ([]searchResult, error) {
		resp, err := client.WebSearch(ctx, query, &bravesearch.WebSearchParams{
			Count: count,
		})
		if err != nil {
			return nil, err
		}
		var out []searchResult
		for _, r := range resp.GetWebResults() {
			out = append(out, searchResult{Title: r.Title, URL: r.URL, Description: r.Description})
		}
		return out, nil
	}}, nil
}

func (w *WebSearch) Search(ctx context.Context, args agent.Args) (any, error) {
	query := strings.TrimSpace(args.String("query"))
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	count := int(args.Int("count"))
	if count <= 0 {
		count = 5
	}
	if count > 20 {
		count = 20
	}

	slog.Debug("web_search: searching", "query", query, "count", count)

	results, err := w.search(ctx, query, count)
	if err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}

	if len(results) == 0 {
		return "No results found.", nil
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "%s\n%s\n%s", r.Title, r.URL, r.Description)
	}

	slog.Debug("web_search: done", "query", query, "results", len(results))
	return truncate([]byte(b.String())), nil
}
