package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frames exchanged over the websocket. A client frame carries exactly one of
// Subscribe, Unsubscribe or Publish; a server frame carries a Response to a
// client frame or a Message delivered to a subscribed destination.

type ClientFrame struct {
	Id          int          `json:"id,omitempty"`
	Subscribe   *Subscribe   `json:"subscribe,omitempty"`
	Unsubscribe *Unsubscribe `json:"unsubscribe,omitempty"`
	Publish     *Publish     `json:"publish,omitempty"`
}

type Subscribe struct {
	Destination string `json:"destination"`
}

type Unsubscribe struct {
	Destination string `json:"destination"`
}

type Publish struct {
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body"`
}

type ServerFrame struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Response  *Response `json:"response,omitempty"`
	Message   *Message  `json:"message,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
}

type Message struct {
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body"`
}

// MsgKind tags every message body so receivers dispatch on the payload
// itself instead of matching destination strings.
type MsgKind string

const (
	KindVoteCount       MsgKind = "vote-count"
	KindVoteFlag        MsgKind = "vote-flag"
	KindScheduleReplace MsgKind = "schedule-replace"
	KindPin             MsgKind = "pin"
	KindWantAdd         MsgKind = "want-add"
	KindWantRemove      MsgKind = "want-remove"
)

// VoteCountMsg is broadcast room-wide whenever a want place's tally changes.
// It never carries voter identity.
type VoteCountMsg struct {
	Kind    MsgKind `json:"kind"`
	RoomId  string  `json:"roomId"`
	WantId  int64   `json:"wantId"`
	VoteCnt int     `json:"voteCnt"`
}

// VoteFlagMsg is delivered on the voter's personal queue only.
type VoteFlagMsg struct {
	Kind       MsgKind `json:"kind"`
	RoomId     string  `json:"roomId"`
	WantId     int64   `json:"wantId"`
	IsVoted    bool    `json:"isVoted"`
	ReceiverId string  `json:"receiverId"`
}

// ScheduleReplaceMsg carries the complete event list for one day bucket.
// The day is the unit of mutation; receivers replace the bucket verbatim.
type ScheduleReplaceMsg struct {
	Kind    MsgKind         `json:"kind"`
	RoomId  string          `json:"roomId"`
	Day     int             `json:"day"`
	DateKey string          `json:"dateKey"`
	Events  []ScheduleEvent `json:"events"`
}

const (
	PinActionAdd    = "add"
	PinActionRemove = "remove"
)

type PinMsg struct {
	Kind   MsgKind `json:"kind"`
	RoomId string  `json:"roomId"`
	Action string  `json:"action"`
	Pin    Pin     `json:"pin"`
}

type WantAddMsg struct {
	Kind   MsgKind  `json:"kind"`
	RoomId string   `json:"roomId"`
	Want   WantItem `json:"want"`
	SendId string   `json:"sendId,omitempty"`
}

type WantRemoveMsg struct {
	Kind   MsgKind `json:"kind"`
	RoomId string  `json:"roomId"`
	WantId int64   `json:"wantId"`
}

type kindProbe struct {
	Kind MsgKind `json:"kind"`
}

// DecodeMessage decodes a message body into its concrete tagged type.
func DecodeMessage(body []byte) (any, error) {
	var probe kindProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("decode message kind: %w", err)
	}

	switch probe.Kind {
	case KindVoteCount:
		var m VoteCountMsg
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindVoteFlag:
		var m VoteFlagMsg
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindScheduleReplace:
		var m ScheduleReplaceMsg
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindPin:
		var m PinMsg
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindWantAdd:
		var m WantAddMsg
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindWantRemove:
		var m WantRemoveMsg
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown message kind %q", probe.Kind)
	}
}

// EncodeMessage marshals a tagged message into a message body.
func EncodeMessage(msg any) (json.RawMessage, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}
