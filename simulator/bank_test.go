package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/parlock/core/unitbus"
)

type published struct {
	topic string
	msg   unitbus.Message
}

type recorder struct {
	mu   sync.Mutex
	msgs []published
}

func (r *recorder) Publish(topic string, payload []byte) error {
	var m unitbus.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, published{topic: topic, msg: m})
	r.mu.Unlock()
	return nil
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, p := range r.msgs {
		out[i] = p.topic
	}
	return out
}

func (r *recorder) last() published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[len(r.msgs)-1]
}

func TestBankRegister(t *testing.T) {
	rec := &recorder{}
	b := NewBank([]string{"u1", "u2"}, unitbus.DefaultTopics(), AutoAck{}, rec)

	b.Handle(context.Background(), "locker_unit/query/register", nil)
	assert.ElementsMatch(t, []string{"locker_unit/reply/register/u1", "locker_unit/reply/register/u2"}, rec.topics())

	b.Handle(context.Background(), "locker_unit/query/register/u2", nil)
	assert.Equal(t, "u2", rec.last().msg.ID)

	b.Handle(context.Background(), "locker_unit/query/register/ghost", nil)
	assert.Len(t, rec.topics(), 3)
}

func TestBankUnlockAcksAndClosesDoor(t *testing.T) {
	rec := &recorder{}
	b := NewBank([]string{"u1"}, unitbus.DefaultTopics(), AutoAck{}, rec)
	b.DoorDelay = 10 * time.Millisecond

	payload, err := json.Marshal(unitbus.Message{ID: "u1", CommandID: "c1"})
	require.NoError(t, err)
	b.Handle(context.Background(), "locker_unit/query/unlock/u1", payload)
	assert.False(t, b.Locked("u1"))

	require.Eventually(t, func() bool { return len(rec.topics()) == 3 }, time.Second, 5*time.Millisecond)
	topics := rec.topics()
	assert.Equal(t, "locker_unit/reply/unlock/u1", topics[0])
	assert.Equal(t, "locker_unit/reply/door/u1", topics[1])
	assert.Equal(t, unitbus.DoorClosed, rec.last().msg.State)
	rec.mu.Lock()
	assert.Equal(t, "c1", rec.msgs[0].msg.CommandID)
	assert.Equal(t, unitbus.DoorOpen, rec.msgs[1].msg.State)
	rec.mu.Unlock()
}

func TestBankLockCancelsDoor(t *testing.T) {
	rec := &recorder{}
	b := NewBank([]string{"u1"}, unitbus.DefaultTopics(), AutoAck{}, rec)
	b.DoorDelay = time.Hour

	b.Handle(context.Background(), "locker_unit/query/unlock/u1", []byte(`{"command_id":"c1"}`))
	b.Handle(context.Background(), "locker_unit/query/lock/u1", []byte(`{"command_id":"c2"}`))
	assert.True(t, b.Locked("u1"))
	assert.Equal(t, []string{
		"locker_unit/reply/unlock/u1",
		"locker_unit/reply/door/u1",
		"locker_unit/reply/lock/u1",
	}, rec.topics())
}

func TestRandomAckDropsEverything(t *testing.T) {
	sent := false
	RandomAck{DropRate: 1}.Ack(context.Background(), func() { sent = true })
	assert.False(t, sent)

	AutoAck{}.Ack(context.Background(), func() { sent = true })
	assert.True(t, sent)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{Broker: "tcp://x:1883", Units: []string{"u1"}}.Validate())
	assert.Error(t, Config{Units: []string{"u1"}}.Validate())
	assert.Error(t, Config{Broker: "tcp://x:1883"}.Validate())
	assert.Error(t, Config{Broker: "tcp://x:1883", Units: []string{"u1"}, DropRate: 2}.Validate())
}
