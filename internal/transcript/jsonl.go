package transcript

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// PersistenceError reports a failed transcript read or write. Line is set
// when a specific JSONL record could not be decoded.
type PersistenceError struct {
	Op   string
	Path string
	Line int
	Err  error
}

func (e *PersistenceError) Error() string {
	switch {
	case e.Line > 0 && e.Path != "":
		return fmt.Sprintf("transcript %s %s: line %d: %v", e.Op, e.Path, e.Line, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("transcript %s: line %d: %v", e.Op, e.Line, e.Err)
	case e.Path != "":
		return fmt.Sprintf("transcript %s %s: %v", e.Op, e.Path, e.Err)
	default:
		return fmt.Sprintf("transcript %s: %v", e.Op, e.Err)
	}
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Encode writes one JSON object per line.
func Encode(w io.Writer, msgs []Message) error {
	bw := bufio.NewWriter(w)
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return &PersistenceError{Op: "encode", Err: err}
		}
		bw.Write(b)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return &PersistenceError{Op: "encode", Err: err}
	}
	return nil
}

// Decode parses each line independently. The first malformed line stops the
// load; the messages read before it are returned with the error.
func Decode(r io.Reader) ([]Message, error) {
	var msgs []Message
	br := bufio.NewReader(r)
	line := 0
	for {
		raw, err := br.ReadBytes('\n')
		if len(raw) > 0 {
			line++
			raw = bytes.TrimSpace(raw)
			if len(raw) > 0 {
				var m Message
				if uerr := json.Unmarshal(raw, &m); uerr != nil {
					return msgs, &PersistenceError{Op: "decode", Line: line, Err: uerr}
				}
				msgs = append(msgs, m)
			}
		}
		if err == io.EOF {
			return msgs, nil
		}
		if err != nil {
			return msgs, &PersistenceError{Op: "decode", Line: line, Err: err}
		}
	}
}
