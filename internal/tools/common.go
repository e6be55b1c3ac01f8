package tools

import (
	"fmt"
	"time"

	"palaver/internal/agent"
)

const maxOutputBytes = 10_000

func truncate(b []byte) string {
	if len(b) > maxOutputBytes {
		return string(b[:maxOutputBytes]) + "\n... (truncated)"
	}
	return string(b)
}

type Options struct {
	BraveAPIKey string
	Now         func() time.Time
}

// Register adds the built-in tools to reg. The web search tool is only
// available when a Brave API key is configured.
func Register(reg *agent.Registry, opts Options) error {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	if _, err := reg.Register("today", "Return the current date and time in ISO format.", Today(now)); err != nil {
		return fmt.Errorf("registering today: %w", err)
	}
	if _, err := reg.Register("get_product_details", "Get product details by product ID.", ProductDetails,
		agent.String("product_id", "Product ID, ex.: 'SKU-12345'"),
	); err != nil {
		return fmt.Errorf("registering get_product_details: %w", err)
	}
	if _, err := reg.Register("send_email", "Send an email to the recipient.", SendEmail,
		agent.String("email", "Recipient email address"),
		agent.String("subject", "Email subject"),
		agent.String("message", "Email message"),
	); err != nil {
		return fmt.Errorf("registering send_email: %w", err)
	}
	if _, err := reg.Register("get_current_weather", "Get current weather details by location.", CurrentWeather,
		agent.String("location", "Location name"),
	); err != nil {
		return fmt.Errorf("registering get_current_weather: %w", err)
	}

	if opts.BraveAPIKey != "" {
		web, err := NewWebSearch(opts.BraveAPIKey)
		if err != nil {
			return err
		}
		if _, err := reg.Register("web_search", "Search the web and return the top results.", web.Search,
			agent.String("query", "Search query"),
			agent.Integer("count", "Number of results to return (default 5, max 20)").WithDefault(),
		); err != nil {
			return fmt.Errorf("registering web_search: %w", err)
		}
	}
	return nil
}
