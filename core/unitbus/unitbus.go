package unitbus

import (
	"context"
	"errors"
	"strings"
)

// ErrAckTimeout is returned when a unit does not confirm a command in time.
var ErrAckTimeout = errors.New("timeout waiting for unit ack")

// Command is the last path element of a query or reply topic.
type Command string

const (
	Register Command = "register"
	Lock     Command = "lock"
	Unlock   Command = "unlock"
	// Door replies carry door state changes reported by a unit.
	Door Command = "door"
)

const (
	DefaultQueryRoot = "locker_unit/query"
	DefaultReplyRoot = "locker_unit/reply"
)

// Topics builds and parses command bus topic names.
type Topics struct {
	QueryRoot string
	ReplyRoot string
}

// DefaultTopics returns the standard topic roots.
func DefaultTopics() Topics {
	return Topics{QueryRoot: DefaultQueryRoot, ReplyRoot: DefaultReplyRoot}
}

func join(root string, c Command, unitID string) string {
	t := strings.TrimRight(root, "/") + "/" + string(c)
	if unitID != "" {
		t += "/" + unitID
	}
	return t
}

// Query returns the topic for a command, broadcast when unitID is empty.
func (t Topics) Query(c Command, unitID string) string { return join(t.QueryRoot, c, unitID) }

// Reply returns the reply topic for a command.
func (t Topics) Reply(c Command, unitID string) string { return join(t.ReplyRoot, c, unitID) }

// ReplyFilter subscribes to every reply.
func (t Topics) ReplyFilter() string { return strings.TrimRight(t.ReplyRoot, "/") + "/#" }

// QueryFilter subscribes to every query, used by units.
func (t Topics) QueryFilter() string { return strings.TrimRight(t.QueryRoot, "/") + "/#" }

func parse(root, topic string) (Command, string, bool) {
	prefix := strings.TrimRight(root, "/") + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(topic, prefix)
	cmd, unitID, _ := strings.Cut(rest, "/")
	if cmd == "" {
		return "", "", false
	}
	return Command(cmd), unitID, true
}

// ParseReply splits a reply topic into its command and optional unit id.
func (t Topics) ParseReply(topic string) (Command, string, bool) { return parse(t.ReplyRoot, topic) }

// ParseQuery splits a query topic into its command and optional unit id.
func (t Topics) ParseQuery(topic string) (Command, string, bool) { return parse(t.QueryRoot, topic) }

// Message is the JSON body exchanged on the bus. Replies carry at least ID.
type Message struct {
	ID        string `json:"id,omitempty"`
	CommandID string `json:"command_id,omitempty"`
	State     string `json:"state,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Door states reported on Door replies.
const (
	DoorOpen   = "open"
	DoorClosed = "closed"
)

// Bus addresses locker units.
type Bus interface {
	// QueryRegister asks every unit in range to announce itself.
	QueryRegister(ctx context.Context) error
	Unlock(ctx context.Context, unitID string) error
	Lock(ctx context.Context, unitID string) error
	// OnRegister sets the handler called for every register reply.
	OnRegister(fn func(unitID string))
	Close() error
}

// DoorSensor reports when a unit door has been closed after an unlock.
type DoorSensor interface {
	WaitClosed(ctx context.Context, unitID string) error
}
