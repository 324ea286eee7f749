// Package templates renders role-tagged message lists into prompt strings
// for the closed set of template families the engine supports.
package templates

import "strings"

// Family is a closed enum of supported prompt template families, mirroring
// the BackendMode closed-enum idiom (constant block + String/Parse pair).
type Family uint8

const (
	ChatML Family = iota
	Llama3
	OpenChat
)

func (f Family) String() string {
	switch f {
	case ChatML:
		return "chatml"
	case Llama3:
		return "llama3"
	case OpenChat:
		return "openchat"
	default:
		return "unknown"
	}
}

// ParseFamily converts a name to a Family. Unknown names return OpenChat and
// false, matching the "safe default plus an ok flag" idiom used for parsing
// closed enums elsewhere in this module.
func ParseFamily(name string) (Family, bool) {
	switch strings.ToLower(name) {
	case "chatml":
		return ChatML, true
	case "llama3":
		return Llama3, true
	case "openchat":
		return OpenChat, true
	default:
		return OpenChat, false
	}
}

// Message is one role-tagged turn in a chat request.
type Message struct {
	Role    string
	Content string
}

// Template renders messages into a single prompt string for its family.
// Templates are stateless and safe to share by reference across requests.
type Template struct {
	family Family
}

// New returns the shared Template for a family. Callers hold it by
// reference; there is no per-request state.
func New(family Family) *Template {
	return &Template{family: family}
}

func (t *Template) Family() Family {
	return t.family
}

// Render renders messages (and an optional system prompt already embedded
// as a "system" role message) into a prompt string. Messages with a role
// outside {system, user, assistant} are dropped; empty content renders as
// an empty turn so turn markers still balance.
func (t *Template) Render(messages []Message) string {
	switch t.family {
	case ChatML:
		return renderChatML(messages)
	case Llama3:
		return renderLlama3(messages)
	default:
		return renderOpenChat(messages)
	}
}

func renderChatML(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		if !validRole(m.Role) {
			continue
		}
		b.WriteString("<|im_start|>")
		b.WriteString(m.Role)
		b.WriteString("\n")
		b.WriteString(m.Content)
		b.WriteString("<|im_end|>\n")
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

func renderLlama3(messages []Message) string {
	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	for _, m := range messages {
		if !validRole(m.Role) {
			continue
		}
		b.WriteString("<|start_header_id|>")
		b.WriteString(m.Role)
		b.WriteString("<|end_header_id|>\n\n")
		b.WriteString(m.Content)
		b.WriteString("<|eot_id|>")
	}
	b.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	return b.String()
}

func renderOpenChat(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		if !validRole(m.Role) {
			continue
		}
		tag := "GPT4 Correct User"
		switch m.Role {
		case "system":
			tag = "System"
		case "assistant":
			tag = "GPT4 Correct Assistant"
		}
		b.WriteString(tag)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("<|end_of_turn|>")
	}
	b.WriteString("GPT4 Correct Assistant:")
	return b.String()
}

func validRole(role string) bool {
	switch role {
	case "system", "user", "assistant":
		return true
	default:
		return false
	}
}

// StopSequences returns the end-of-turn markers a family expects as
// additional generation stop sequences, merged with caller-supplied ones by
// the API layer.
func (t *Template) StopSequences() []string {
	switch t.family {
	case ChatML:
		return []string{"<|im_end|>"}
	case Llama3:
		return []string{"<|eot_id|>", "<|end_of_text|>"}
	default:
		return []string{"<|end_of_turn|>"}
	}
}

// InferFamily infers a template family from a model filename, per the
// fixed substring rules: qwen/chatglm -> ChatML, llama -> Llama3, else
// OpenChat.
func InferFamily(filename string) Family {
	lower := strings.ToLower(filename)
	switch {
	case strings.Contains(lower, "qwen"), strings.Contains(lower, "chatglm"):
		return ChatML
	case strings.Contains(lower, "llama"):
		return Llama3
	default:
		return OpenChat
	}
}
