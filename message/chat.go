package message

// NewChat builds a unicast application-text MESSAGE (spec.md §6).
func NewChat(selfID, targetID, content string) *Message {
	return New(selfID, targetID, TypeChat, map[string]interface{}{
		"content": content,
	})
}

// Content extracts the "content" string from a MESSAGE's data, if present.
func Content(m *Message) (string, bool) {
	content, ok := m.Data["content"].(string)
	return content, ok
}
