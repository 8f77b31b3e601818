package main

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/kilianp07/parlock/core/unitbus"
)

// Publisher sends a reply on the bus.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Bank plays a set of locker units sharing one connection. It answers
// register queries, confirms lock and unlock commands through Strategy and
// reports doors closed DoorDelay after an unlock.
type Bank struct {
	Topics    unitbus.Topics
	Strategy  AckStrategy
	DoorDelay time.Duration
	pub       Publisher

	mu     sync.Mutex
	units  map[string]bool // id -> locked
	doorCh map[string]chan struct{}
}

// NewBank returns locked units publishing through pub.
func NewBank(ids []string, topics unitbus.Topics, strat AckStrategy, pub Publisher) *Bank {
	b := &Bank{
		Topics:   topics,
		Strategy: strat,
		pub:      pub,
		units:    make(map[string]bool, len(ids)),
		doorCh:   map[string]chan struct{}{},
	}
	for _, id := range ids {
		b.units[id] = true
	}
	return b
}

// Locked reports the lock state of a unit.
func (b *Bank) Locked(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.units[id]
}

func (b *Bank) ids(target string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if target != "" {
		if _, ok := b.units[target]; ok {
			return []string{target}
		}
		return nil
	}
	ids := make([]string, 0, len(b.units))
	for id := range b.units {
		ids = append(ids, id)
	}
	return ids
}

func (b *Bank) reply(cmd unitbus.Command, m unitbus.Message) {
	m.Timestamp = time.Now().UnixMilli()
	payload, err := json.Marshal(m)
	if err != nil {
		log.Printf("marshal %s reply: %v", cmd, err)
		return
	}
	if err := b.pub.Publish(b.Topics.Reply(cmd, m.ID), payload); err != nil {
		log.Printf("%s: publish %s reply: %v", m.ID, cmd, err)
	}
}

// Handle processes one query message.
func (b *Bank) Handle(ctx context.Context, topic string, payload []byte) {
	cmd, target, ok := b.Topics.ParseQuery(topic)
	if !ok {
		return
	}
	var m unitbus.Message
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &m); err != nil {
			log.Printf("decode query on %s: %v", topic, err)
			return
		}
	}
	switch cmd {
	case unitbus.Register:
		for _, id := range b.ids(target) {
			b.reply(unitbus.Register, unitbus.Message{ID: id})
		}
	case unitbus.Lock, unitbus.Unlock:
		ids := b.ids(target)
		if len(ids) != 1 {
			return
		}
		id := ids[0]
		b.setLocked(id, cmd == unitbus.Lock)
		b.Strategy.Ack(ctx, func() {
			b.reply(cmd, unitbus.Message{ID: id, CommandID: m.CommandID})
		})
		if cmd == unitbus.Unlock {
			b.openDoor(ctx, id)
		}
	}
}

func (b *Bank) setLocked(id string, locked bool) {
	b.mu.Lock()
	b.units[id] = locked
	if ch, ok := b.doorCh[id]; ok && locked {
		close(ch)
		delete(b.doorCh, id)
	}
	b.mu.Unlock()
	log.Printf("%s: locked=%t", id, locked)
}

// openDoor reports the door open, then closed after DoorDelay unless the
// unit gets locked first.
func (b *Bank) openDoor(ctx context.Context, id string) {
	b.reply(unitbus.Door, unitbus.Message{ID: id, State: unitbus.DoorOpen})
	if b.DoorDelay <= 0 {
		return
	}
	cancel := make(chan struct{})
	b.mu.Lock()
	if prev, ok := b.doorCh[id]; ok {
		close(prev)
	}
	b.doorCh[id] = cancel
	b.mu.Unlock()
	go func() {
		t := time.NewTimer(b.DoorDelay)
		defer t.Stop()
		select {
		case <-t.C:
			b.reply(unitbus.Door, unitbus.Message{ID: id, State: unitbus.DoorClosed})
		case <-cancel:
		case <-ctx.Done():
		}
	}()
}
