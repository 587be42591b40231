// Package message implements the wire protocol: a single newline-delimited
// JSON object per record, with the field set and validation spec.md §4.2
// requires. It is the Go analog of the teacher's generated msg package, one
// file per reserved message type, minus the ZMQ multipart framing.
package message

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type identifies the wire message's purpose. The five reserved values are
// constants below; application collaborators may register and use any other
// non-empty string.
type Type string

// Reserved message types understood by the core itself.
const (
	TypeHandshake      Type = "HANDSHAKE"
	TypePeerList       Type = "PEER_LIST"
	TypeNetworkUpdate  Type = "NETWORK_UPDATE"
	TypeChat           Type = "MESSAGE"
	TypePestAlert      Type = "PEST_ALERT"
)

// MaxHops is the single hop-count ceiling for the whole core. The original
// source disagreed with itself (10 in the codec, 3 in the alert handler);
// this is the only cap and it lives here.
const MaxHops = 10

// ErrParse is returned (wrapped) for any malformed or invalid record. The
// caller logs and discards the offending line; it never closes the link.
var ErrParse = errors.New("message: parse error")

// Message is the unit of the wire protocol (spec.md §3).
type Message struct {
	PeerID       string                 `json:"peer_id"`
	TargetUserID string                 `json:"target_user_id"`
	MessageType  Type                   `json:"message_type"`
	Data         map[string]interface{} `json:"data"`
	TimeStamp    float64                `json:"time_stamp"`
	MessageID    string                 `json:"message_id"`
	HopCount     int                    `json:"hop_count"`
	Path         []string               `json:"path"`
}

// New creates a Message originating from peerID, assigning a fresh
// MessageID and a Path of just the originator, mirroring
// original_source/message.py's constructor.
func New(peerID, targetUserID string, msgType Type, data map[string]interface{}) *Message {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &Message{
		PeerID:       peerID,
		TargetUserID: targetUserID,
		MessageType:  msgType,
		Data:         data,
		TimeStamp:    float64(time.Now().Unix()),
		MessageID:    newMessageID(),
		HopCount:     0,
		Path:         []string{peerID},
	}
}

func newMessageID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively unrecoverable on any real OS;
		// fall back to a timestamp-derived token rather than panicking.
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b)
}

// IsBroadcast reports whether the message has no single addressee.
func (m *Message) IsBroadcast() bool {
	return m.TargetUserID == ""
}

// AddHop increments HopCount and appends peerID to Path, recording one
// forwarding step (spec.md §4, "Hop").
func (m *Message) AddHop(peerID string) {
	m.HopCount++
	m.Path = append(m.Path, peerID)
}

// InPath reports whether peerID has already transited this message, used by
// the broadcast forwarder to avoid sending back the way a message came
// (spec.md §4.6.6 / §9 — the original source omitted this check).
func (m *Message) InPath(peerID string) bool {
	for _, p := range m.Path {
		if p == peerID {
			return true
		}
	}
	return false
}

// Clone returns a deep-enough copy safe to mutate (Data is shared, since
// handlers and forwarders are expected to treat it as read-only once
// received).
func (m *Message) Clone() *Message {
	cp := *m
	cp.Path = append([]string(nil), m.Path...)
	return &cp
}

// Encode produces a newline-terminated UTF-8 JSON record (spec.md §4.2).
func Encode(m *Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("message: encode: %w", err)
	}
	return append(body, '\n'), nil
}

// wireMessage mirrors Message but with loosely-typed fields so Decode can
// validate presence/type itself instead of letting encoding/json silently
// zero-value a wrong-typed field.
type wireMessage struct {
	PeerID       *string                 `json:"peer_id"`
	TargetUserID *string                 `json:"target_user_id"`
	MessageType  *string                 `json:"message_type"`
	Data         map[string]interface{}  `json:"data"`
	TimeStamp    *float64                `json:"time_stamp"`
	MessageID    *string                 `json:"message_id"`
	HopCount     *int                    `json:"hop_count"`
	Path         []string                `json:"path"`
}

// Decode parses one newline-delimited JSON record (the trailing newline, if
// present, is not required of the input — callers typically split on it
// first). It returns ErrParse (wrapped) for invalid JSON, a missing or
// wrong-typed required field, or hop_count > MaxHops.
func Decode(line []byte) (*Message, error) {
	var w wireMessage
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrParse, err)
	}

	if w.PeerID == nil || *w.PeerID == "" {
		return nil, fmt.Errorf("%w: missing peer_id", ErrParse)
	}
	if w.MessageType == nil || *w.MessageType == "" {
		return nil, fmt.Errorf("%w: missing message_type", ErrParse)
	}
	if w.Data == nil {
		return nil, fmt.Errorf("%w: missing data", ErrParse)
	}
	if w.TimeStamp == nil {
		return nil, fmt.Errorf("%w: missing time_stamp", ErrParse)
	}
	if w.MessageID == nil || *w.MessageID == "" {
		return nil, fmt.Errorf("%w: missing message_id", ErrParse)
	}

	if w.HopCount == nil {
		return nil, fmt.Errorf("%w: missing hop_count", ErrParse)
	}
	hopCount := *w.HopCount
	if hopCount > MaxHops {
		return nil, fmt.Errorf("%w: hop_count %d exceeds MaxHops %d", ErrParse, hopCount, MaxHops)
	}
	if hopCount < 0 {
		return nil, fmt.Errorf("%w: negative hop_count", ErrParse)
	}

	target := ""
	if w.TargetUserID != nil {
		target = *w.TargetUserID
	}

	path := w.Path
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: missing path", ErrParse)
	}
	if path[0] != *w.PeerID {
		return nil, fmt.Errorf("%w: path does not start with peer_id", ErrParse)
	}

	return &Message{
		PeerID:       *w.PeerID,
		TargetUserID: target,
		MessageType:  Type(*w.MessageType),
		Data:         w.Data,
		TimeStamp:    *w.TimeStamp,
		MessageID:    *w.MessageID,
		HopCount:     hopCount,
		Path:         path,
	}, nil
}
