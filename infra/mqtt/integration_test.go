package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/parlock/core/unitbus"
)

func waitForBroker(broker string, timeout time.Duration) error {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("probe")
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		cli := paho.NewClient(opts)
		token := cli.Connect()
		token.Wait()
		if token.Error() == nil {
			cli.Disconnect(100)
			return nil
		}
		lastErr = token.Error()
		time.Sleep(100 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for broker")
	}
	return lastErr
}

func startMosquitto(ctx context.Context, t *testing.T) string {
	t.Helper()
	conf := "listener 1883\nallow_anonymous true\npersistence false\n"
	path := filepath.Join(t.TempDir(), "mosquitto.conf")
	require.NoError(t, os.WriteFile(path, []byte(conf), 0o644))

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{{
			HostFilePath:      path,
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0o644,
		}},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("mosquitto container: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })
	host, err := cont.Host(ctx)
	require.NoError(t, err)
	port, err := cont.MappedPort(ctx, "1883")
	require.NoError(t, err)
	broker := fmt.Sprintf("tcp://%s:%s", host, port.Port())
	if err := waitForBroker(broker, 5*time.Second); err != nil {
		t.Skipf("mosquitto not ready at %s: %v", broker, err)
	}
	return broker
}

// fakeUnit answers queries for one unit the way locker firmware does.
func fakeUnit(t *testing.T, broker, id string) {
	t.Helper()
	topics := unitbus.DefaultTopics()
	cli := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("unit-" + id))
	token := cli.Connect()
	token.Wait()
	require.NoError(t, token.Error())
	t.Cleanup(func() { cli.Disconnect(100) })

	reply := func(cmd unitbus.Command, m unitbus.Message) {
		payload, _ := json.Marshal(m)
		cli.Publish(topics.Reply(cmd, id), 1, false, payload)
	}
	token = cli.Subscribe(topics.QueryFilter(), 1, func(_ paho.Client, msg paho.Message) {
		cmd, target, ok := topics.ParseQuery(msg.Topic())
		if !ok || (target != "" && target != id) {
			return
		}
		var m unitbus.Message
		_ = json.Unmarshal(msg.Payload(), &m)
		switch cmd {
		case unitbus.Register:
			reply(unitbus.Register, unitbus.Message{ID: id})
		case unitbus.Unlock:
			reply(unitbus.Unlock, unitbus.Message{ID: id, CommandID: m.CommandID})
			go func() {
				time.Sleep(200 * time.Millisecond)
				reply(unitbus.Door, unitbus.Message{ID: id, State: unitbus.DoorClosed})
			}()
		case unitbus.Lock:
			reply(unitbus.Lock, unitbus.Message{ID: id, CommandID: m.CommandID})
		}
	})
	token.Wait()
	require.NoError(t, token.Error())
}

func TestUnitBusWithMosquitto(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
	ctx := context.Background()
	broker := startMosquitto(ctx, t)
	fakeUnit(t, broker, "u1")

	bus, err := NewUnitBus(Config{Broker: broker, ClientID: "base-it", AckTimeoutMS: 3000}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	var mu sync.Mutex
	var registered []string
	bus.OnRegister(func(id string) {
		mu.Lock()
		registered = append(registered, id)
		mu.Unlock()
	})
	// the reply subscription is made in the connect handler
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, bus.QueryRegister(ctx))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(registered) == 1
	}, 5*time.Second, 50*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"u1"}, registered)
	mu.Unlock()

	require.NoError(t, bus.Unlock(ctx, "u1"))
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, bus.WaitClosed(waitCtx, "u1"))
	require.NoError(t, bus.Lock(ctx, "u1"))

	err = bus.Unlock(ctx, "ghost")
	assert.ErrorIs(t, err, unitbus.ErrAckTimeout)
}
