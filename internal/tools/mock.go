package tools

import (
	"context"
	"log/slog"

	"palaver/internal/agent"

	"github.com/goccy/go-json"
)

// Mock tools with canned answers for exercising the tool-call path.

func ProductDetails(_ context.Context, args agent.Args) (any, error) {
	b, err := json.Marshal(map[string]any{
		"product_id":  args.String("product_id"),
		"name":        "Product Name",
		"description": "Product Description",
		"price":       100.0,
	})
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// SendEmail echoes the message back as a structured value; nothing is sent.
func SendEmail(_ context.Context, args agent.Args) (any, error) {
	slog.Info("send_email: mock send", "to", args.String("email"), "subject", args.String("subject"))
	return map[string]any{
		"email":   args.String("email"),
		"subject": args.String("subject"),
		"message": args.String("message"),
	}, nil
}

func CurrentWeather(_ context.Context, args agent.Args) (any, error) {
	b, err := json.Marshal(map[string]any{
		"location":    args.String("location"),
		"temperature": 25.0,
		"description": "Sunny",
	})
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
