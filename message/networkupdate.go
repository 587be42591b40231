package message

// NewNetworkUpdate builds a NETWORK_UPDATE message carrying an adjacency-list
// snapshot of the sender's peer graph (spec.md §4.6.4, §6).
func NewNetworkUpdate(selfID, targetID string, graph map[string][]string) *Message {
	adjacency := make(map[string]interface{}, len(graph))
	for id, neighbors := range graph {
		frame := make([]interface{}, len(neighbors))
		for i, n := range neighbors {
			frame[i] = n
		}
		adjacency[id] = frame
	}
	return New(selfID, targetID, TypeNetworkUpdate, map[string]interface{}{
		"peer_graph": adjacency,
	})
}

// DecodeNetworkUpdate extracts the peer_id -> []peer_id adjacency map from a
// validated NETWORK_UPDATE message.
func DecodeNetworkUpdate(m *Message) map[string][]string {
	out := map[string][]string{}
	raw, ok := m.Data["peer_graph"].(map[string]interface{})
	if !ok {
		return out
	}
	for id, neighborsRaw := range raw {
		list, ok := neighborsRaw.([]interface{})
		if !ok {
			continue
		}
		neighbors := make([]string, 0, len(list))
		for _, n := range list {
			if s, ok := n.(string); ok {
				neighbors = append(neighbors, s)
			}
		}
		out[id] = neighbors
	}
	return out
}
