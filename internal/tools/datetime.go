package tools

import (
	"context"
	"time"

	"palaver/internal/agent"
)

const isoLayout = "2006-01-02T15:04:05.000000"

// Today reports the local wall-clock time as an ISO timestamp with a Z suffix.
func Today(now func() time.Time) agent.Func {
	return func(context.Context, agent.Args) (any, error) {
		return now().Format(isoLayout) + "Z", nil
	}
}
