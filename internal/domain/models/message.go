package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageKind discriminates inbound transport frames. Parsing happens
// once at the pipeline boundary; downstream code switches on the kind
// instead of re-inspecting raw payloads.
type MessageKind string

const (
	KindMarketData MessageKind = "market_data"
	KindPong       MessageKind = "pong"
	KindStatus     MessageKind = "status"
	KindNotice     MessageKind = "notice"
)

// IsMarketData reports whether the kind carries a market snapshot.
func (k MessageKind) IsMarketData() bool { return k == KindMarketData }

// InboundMessage is the parsed form of one transport frame.
type InboundMessage struct {
	Kind       MessageKind
	ReceivedAt time.Time
	Market     *Snapshot       // set when Kind is market data
	ProbeID    string          // set when Kind is pong
	Raw        json.RawMessage // original payload for passthrough kinds
}

type wireEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wirePong struct {
	ID string `json:"id"`
}

// ParseInbound decodes a raw frame into an InboundMessage. Structurally
// invalid payloads return an error; the caller drops and counts them.
func ParseInbound(b []byte, receivedAt time.Time) (*InboundMessage, error) {
	var env wireEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}

	msg := &InboundMessage{Kind: MessageKind(env.Type), ReceivedAt: receivedAt, Raw: b}

	switch msg.Kind {
	case KindMarketData:
		var snap Snapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		if snap.Symbol == "" {
			return nil, fmt.Errorf("snapshot missing symbol")
		}
		if snap.Timestamp <= 0 {
			return nil, fmt.Errorf("snapshot missing timestamp")
		}
		msg.Market = &snap
	case KindPong:
		var p wirePong
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode pong: %w", err)
		}
		msg.ProbeID = p.ID
	}

	return msg, nil
}

// ControlMessage is the control-plane frame sent over the transport for
// subscribe/unsubscribe requests.
type ControlMessage struct {
	Type string             `json:"type"`
	Data ControlMessageData `json:"data"`
}

type ControlMessageData struct {
	Symbols []string `json:"symbols"`
}

// NewSubscribe builds a subscribe control message.
func NewSubscribe(symbols []string) ControlMessage {
	return ControlMessage{Type: "subscribe", Data: ControlMessageData{Symbols: symbols}}
}

// NewUnsubscribe builds an unsubscribe control message.
func NewUnsubscribe(symbols []string) ControlMessage {
	return ControlMessage{Type: "unsubscribe", Data: ControlMessageData{Symbols: symbols}}
}

// PingMessage is the probe frame carrying a correlation id; the upstream
// echoes it back as a pong.
type PingMessage struct {
	Type string          `json:"type"`
	Data PingMessageData `json:"data"`
}

type PingMessageData struct {
	ID string `json:"id"`
}

// NewPing builds a probe frame for the given correlation id.
func NewPing(id string) PingMessage {
	return PingMessage{Type: "ping", Data: PingMessageData{ID: id}}
}
