package transcript

import "sync"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// Message is one role-tagged entry of a conversation. Name is only set for
// function messages and carries the tool that produced the content.
type Message struct {
	Role    Role   `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }
func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }

func Function(name, content string) Message {
	return Message{Role: RoleFunction, Name: name, Content: content}
}

// Transcript is the ordered, append-only message log of one chat session.
// Messages are never mutated or removed once appended.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
}

func New(msgs ...Message) *Transcript {
	t := &Transcript{}
	t.messages = append(t.messages, msgs...)
	return t
}

func (t *Transcript) Append(m Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, m)
}

// Messages returns a snapshot of the log in append order.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
