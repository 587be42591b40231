package message

// Endpoint is a (host, port) pair, the address a peer listens on.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// NewPeerList builds a PEER_LIST gossip message carrying the sender's
// KnownPeers snapshot (spec.md §4.6.3, §6).
func NewPeerList(selfID, targetID string, known map[string]Endpoint) *Message {
	data := make(map[string]interface{}, len(known))
	for id, ep := range known {
		data[id] = map[string]interface{}{"host": ep.Host, "port": ep.Port}
	}
	return New(selfID, targetID, TypePeerList, data)
}

// DecodePeerList extracts the peer_id -> Endpoint map from a validated
// PEER_LIST message, skipping any malformed entry rather than failing the
// whole message.
func DecodePeerList(m *Message) map[string]Endpoint {
	out := make(map[string]Endpoint, len(m.Data))
	for id, raw := range m.Data {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		host, ok := entry["host"].(string)
		if !ok {
			continue
		}
		port, ok := asInt(entry["port"])
		if !ok {
			continue
		}
		out[id] = Endpoint{Host: host, Port: port}
	}
	return out
}
