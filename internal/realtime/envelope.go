// Package realtime distributes issue changes to live clients. Mutation handlers
// publish envelopes through the Publisher; per-project listeners bridge broker
// channels to the connections the Manager has registered for that project.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// EventType is the wire "type" tag of an envelope.
type EventType string

const (
	TypeIssueCreated EventType = "issue_created"
	TypeIssueUpdated EventType = "issue_updated"
	TypeIssueDeleted EventType = "issue_deleted"
	TypeConnected    EventType = "connected"
	TypePing         EventType = "ping"
	TypePong         EventType = "pong"
)

// ErrMalformedEnvelope is returned by Decode for payloads that are not a known envelope.
var ErrMalformedEnvelope = errors.New("realtime: malformed envelope")

// Envelope is the canonical message unit moved between publisher, broker and
// connections. The set of implementations is closed.
type Envelope interface {
	Type() EventType
	envelope()
}

// IssueCreated carries the created issue.
type IssueCreated struct{ Data any }

// IssueUpdated carries the updated issue.
type IssueUpdated struct{ Data any }

// IssueDeleted identifies the removed issue.
type IssueDeleted struct{ IssueID int64 }

// Connected greets a client once it has joined a project room.
type Connected struct {
	UserID  int64
	Message string
}

// Ping is the client keepalive frame.
type Ping struct{}

// Pong answers Ping.
type Pong struct{}

func (IssueCreated) Type() EventType { return TypeIssueCreated }
func (IssueUpdated) Type() EventType { return TypeIssueUpdated }
func (IssueDeleted) Type() EventType { return TypeIssueDeleted }
func (Connected) Type() EventType    { return TypeConnected }
func (Ping) Type() EventType         { return TypePing }
func (Pong) Type() EventType         { return TypePong }

func (IssueCreated) envelope() {}
func (IssueUpdated) envelope() {}
func (IssueDeleted) envelope() {}
func (Connected) envelope()    {}
func (Ping) envelope()         {}
func (Pong) envelope()         {}

type dataFrame struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type deletedData struct {
	IssueID int64 `json:"issue_id"`
}

type connectedFrame struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
	UserID  int64     `json:"user_id"`
}

type typeFrame struct {
	Type EventType `json:"type"`
}

// Encode serializes env to its JSON wire form.
func Encode(env Envelope) ([]byte, error) {
	var frame any
	switch e := env.(type) {
	case IssueCreated:
		frame = dataFrame{Type: TypeIssueCreated, Data: e.Data}
	case IssueUpdated:
		frame = dataFrame{Type: TypeIssueUpdated, Data: e.Data}
	case IssueDeleted:
		frame = dataFrame{Type: TypeIssueDeleted, Data: deletedData{IssueID: e.IssueID}}
	case Connected:
		frame = connectedFrame{Type: TypeConnected, Message: e.Message, UserID: e.UserID}
	case Ping:
		frame = typeFrame{Type: TypePing}
	case Pong:
		frame = typeFrame{Type: TypePong}
	default:
		return nil, fmt.Errorf("realtime: unknown envelope %T", env)
	}

	b, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Type(), err)
	}
	return b, nil
}

// Decode parses a wire frame. Data payloads of issue events are kept as
// json.RawMessage so they re-encode byte for byte.
func Decode(b []byte) (Envelope, error) {
	var raw struct {
		Type    EventType       `json:"type"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
		UserID  int64           `json:"user_id"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch raw.Type {
	case TypeIssueCreated:
		return IssueCreated{Data: raw.Data}, nil
	case TypeIssueUpdated:
		return IssueUpdated{Data: raw.Data}, nil
	case TypeIssueDeleted:
		var d deletedData
		if len(raw.Data) == 0 {
			return nil, fmt.Errorf("%w: issue_deleted without data", ErrMalformedEnvelope)
		}
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return IssueDeleted{IssueID: d.IssueID}, nil
	case TypeConnected:
		return Connected{UserID: raw.UserID, Message: raw.Message}, nil
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, raw.Type)
	}
}

// ChannelName returns the broker channel carrying updates for a project.
func ChannelName(projectID int64) string {
	return "project:" + strconv.FormatInt(projectID, 10) + ":updates"
}
