package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"palaver/internal/session"
)

const help = `commands:
  /new                          start a new session
  /model <key> [--drop-memory]  switch model, keeping the transcript unless told otherwise
  /sessions                     list stored sessions
  /load <id>                    resume a stored session
  /quit                         leave`

// REPL is the line-oriented terminal chat. Partial answers are printed as
// they grow.
type REPL struct {
	Sessions *session.Manager
	Models   []string
	In       io.Reader
	Out      io.Writer

	current *session.Session
}

func (r *REPL) Run(ctx context.Context, model, resume string) error {
	var err error
	if resume != "" {
		r.current, err = r.Sessions.Open(ctx, resume)
		if err == nil && model != "" {
			r.current, err = r.Sessions.SwitchModel(resume, model, true)
		}
	} else {
		r.current, err = r.Sessions.New(ctx, model)
	}
	if err != nil {
		return err
	}
	r.banner()

	sc := bufio.NewScanner(r.In)
	for {
		fmt.Fprint(r.Out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(r.Out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintf(r.Out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}
		if err := r.send(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(r.Out, "\nerror: %v\n", err)
		}
	}
}

func (r *REPL) banner() {
	fmt.Fprintf(r.Out, "session %s (%s). /help for commands.\n", r.current.ID, r.current.Model())
}

// send prints only the suffix each cumulative partial adds. A status notice
// goes on its own line and the follow-up answer starts from scratch.
func (r *REPL) send(ctx context.Context, text string) error {
	printed := 0
	for answer, err := range r.Sessions.Send(ctx, r.current.ID, text) {
		if err != nil {
			return err
		}
		if answer.Status {
			if printed > 0 {
				fmt.Fprintln(r.Out)
			}
			fmt.Fprintf(r.Out, "(%s)\n", answer.VisibleText)
			printed = 0
			continue
		}
		if len(answer.VisibleText) > printed {
			fmt.Fprint(r.Out, answer.VisibleText[printed:])
			printed = len(answer.VisibleText)
		}
	}
	fmt.Fprintln(r.Out)
	return nil
}

func (r *REPL) command(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.Out, help)
	case "/new":
		s, err := r.Sessions.New(ctx, r.current.Model())
		if err != nil {
			return false, err
		}
		r.current = s
		r.banner()
	case "/model":
		if len(fields) < 2 {
			fmt.Fprintf(r.Out, "models: %s\n", strings.Join(r.Models, ", "))
			return false, nil
		}
		keep := !slices.Contains(fields[2:], "--drop-memory")
		if _, err := r.Sessions.SwitchModel(r.current.ID, fields[1], keep); err != nil {
			return false, err
		}
		fmt.Fprintf(r.Out, "switched to %s (memory kept: %t)\n", fields[1], keep)
	case "/sessions":
		ids, err := r.Sessions.List(ctx)
		if err != nil {
			return false, err
		}
		for _, id := range ids {
			marker := " "
			if id == r.current.ID {
				marker = "*"
			}
			fmt.Fprintf(r.Out, "%s %s\n", marker, id)
		}
	case "/load":
		if len(fields) < 2 {
			return false, errors.New("usage: /load <id>")
		}
		s, err := r.Sessions.Open(ctx, fields[1])
		if err != nil {
			return false, err
		}
		r.current = s
		r.banner()
		for _, m := range s.Messages() {
			fmt.Fprintf(r.Out, "[%s] %s\n", m.Role, m.Content)
		}
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}
