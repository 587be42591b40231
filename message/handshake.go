package message

// HandshakeData is the data payload of a HANDSHAKE message: the sender's
// listening endpoint (spec.md §6).
type HandshakeData struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// NewHandshake builds the two-way binding message a peer sends on connect
// and on first receipt of a HANDSHAKE it hasn't answered yet (spec.md
// §4.6.2).
func NewHandshake(selfID, targetID, host string, port int) *Message {
	return New(selfID, targetID, TypeHandshake, map[string]interface{}{
		"host": host,
		"port": port,
	})
}

// DecodeHandshake extracts the HandshakeData from a validated HANDSHAKE
// message.
func DecodeHandshake(m *Message) (HandshakeData, bool) {
	host, ok := m.Data["host"].(string)
	if !ok {
		return HandshakeData{}, false
	}
	port, ok := asInt(m.Data["port"])
	if !ok {
		return HandshakeData{}, false
	}
	return HandshakeData{Host: host, Port: port}, true
}

// asInt accepts both float64 (the shape a round-tripped JSON number takes
// once decoded into interface{}) and int (the shape a freshly-constructed,
// not-yet-serialized message carries).
func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
