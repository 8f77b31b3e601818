package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/parlock/core/logger"
	coremon "github.com/kilianp07/parlock/core/monitoring"
	"github.com/kilianp07/parlock/core/unitbus"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker       string          `json:"broker"`
	ClientID     string          `json:"client_id"`
	Username     string          `json:"username"`
	Password     string          `json:"password"`
	QueryRoot    string          `json:"query_root"`
	ReplyRoot    string          `json:"reply_root"`
	UseTLS       bool            `json:"use_tls"`
	ClientCert   string          `json:"client_cert"`
	ClientKey    string          `json:"client_key"`
	CABundle     string          `json:"ca_bundle"`
	AuthMethod   string          `json:"auth_method"`
	QoS          map[string]byte `json:"qos"`
	LWTTopic     string          `json:"lwt_topic"`
	LWTPayload   string          `json:"lwt_payload"`
	LWTQoS       byte            `json:"lwt_qos"`
	LWTRetain    bool            `json:"lwt_retain"`
	MaxRetries   int             `json:"max_retries"`
	BackoffMS    int             `json:"backoff_ms"`
	AckTimeoutMS int             `json:"ack_timeout_ms"`
	TLSConfig    *tls.Config     `json:"-"`
}

// Topics returns the topic layout, falling back to the default roots.
func (c Config) Topics() unitbus.Topics {
	t := unitbus.DefaultTopics()
	if c.QueryRoot != "" {
		t.QueryRoot = c.QueryRoot
	}
	if c.ReplyRoot != "" {
		t.ReplyRoot = c.ReplyRoot
	}
	return t
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// UnitBus implements unitbus.Bus and unitbus.DoorSensor over MQTT.
type UnitBus struct {
	cli        pahoClient
	topics     unitbus.Topics
	qos        map[string]byte
	log        logger.Logger
	maxRetries int
	backoff    time.Duration
	ackTimeout time.Duration

	mu         sync.Mutex
	acks       map[string]chan struct{}
	doors      map[string][]chan struct{}
	onRegister func(unitID string)
}

var (
	_ unitbus.Bus        = (*UnitBus)(nil)
	_ unitbus.DoorSensor = (*UnitBus)(nil)
)

// NewUnitBus connects to the broker. The reply subscription is set up in the
// connect handler so it survives reconnects.
func NewUnitBus(cfg Config, log logger.Logger) (*UnitBus, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log = logger.OrNop(log)
	b := &UnitBus{
		topics:     cfg.Topics(),
		qos:        cfg.QoS,
		log:        log,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		ackTimeout: time.Duration(cfg.AckTimeoutMS) * time.Millisecond,
		acks:       make(map[string]chan struct{}),
		doors:      make(map[string][]chan struct{}),
	}
	if b.maxRetries <= 0 {
		b.maxRetries = 3
	}
	if b.backoff <= 0 {
		b.backoff = 100 * time.Millisecond
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if token := c.Subscribe(b.topics.ReplyFilter(), b.qosFor("reply"), b.onMessage); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	b.cli = c
	return b, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "parlock-" + uuid.NewString()[:8]
	}
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	// handlers may block on ledger calls
	opts.SetOrderMatters(false)
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires ca_bundle")
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("no certificate found in %s", c.CABundle)
	}
	cfg := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	if c.AuthMethod == "certificate" || c.AuthMethod == "both" || c.ClientCert != "" {
		if c.ClientCert == "" || c.ClientKey == "" {
			return nil, fmt.Errorf("certificate auth requires client_cert and client_key")
		}
		cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func (b *UnitBus) qosFor(kind string) byte {
	if q, ok := b.qos[kind]; ok {
		return q
	}
	return 0
}

// OnRegister implements unitbus.Bus.
func (b *UnitBus) OnRegister(fn func(unitID string)) {
	b.mu.Lock()
	b.onRegister = fn
	b.mu.Unlock()
}

func (b *UnitBus) onMessage(_ paho.Client, msg paho.Message) {
	cmd, topicID, ok := b.topics.ParseReply(msg.Topic())
	if !ok {
		return
	}
	var m unitbus.Message
	if len(msg.Payload()) > 0 {
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			b.log.Errorf("failed to decode reply on %s: %v", msg.Topic(), err)
			return
		}
	}
	if m.ID == "" {
		m.ID = topicID
	}
	b.log.Debugw("unit reply", map[string]any{"topic": msg.Topic(), "id": m.ID, "command_id": m.CommandID})

	switch cmd {
	case unitbus.Register:
		if m.ID == "" {
			b.log.Warnf("register reply without unit id")
			return
		}
		b.mu.Lock()
		fn := b.onRegister
		b.mu.Unlock()
		if fn != nil {
			fn(m.ID)
		}
	case unitbus.Lock, unitbus.Unlock:
		b.mu.Lock()
		if ch, ok := b.acks[m.CommandID]; ok {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
		b.mu.Unlock()
	case unitbus.Door:
		if m.State != unitbus.DoorClosed {
			return
		}
		b.mu.Lock()
		waiters := b.doors[m.ID]
		delete(b.doors, m.ID)
		b.mu.Unlock()
		for _, ch := range waiters {
			close(ch)
		}
	}
}

func (b *UnitBus) publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	var publishErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		token := b.cli.Publish(topic, qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		b.log.Errorf("publish attempt %d on %s failed: %v", attempt+1, topic, publishErr)
		if attempt == b.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.backoff * time.Duration(1<<attempt)):
		}
	}
	return publishErr
}

// QueryRegister broadcasts a register query.
func (b *UnitBus) QueryRegister(ctx context.Context) error {
	payload, err := json.Marshal(unitbus.Message{Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	topic := b.topics.Query(unitbus.Register, "")
	if err := b.publish(ctx, topic, b.qosFor("command"), payload); err != nil {
		coremon.CaptureException(err, map[string]string{"module": "mqtt", "command": string(unitbus.Register)})
		return fmt.Errorf("register query: %w", err)
	}
	b.log.Infof("broadcast register query on %s", topic)
	return nil
}

func (b *UnitBus) Unlock(ctx context.Context, unitID string) error {
	return b.command(ctx, unitbus.Unlock, unitID)
}

func (b *UnitBus) Lock(ctx context.Context, unitID string) error {
	return b.command(ctx, unitbus.Lock, unitID)
}

// command publishes cmd to the unit and, when an ack timeout is configured,
// waits for the matching reply.
func (b *UnitBus) command(ctx context.Context, cmd unitbus.Command, unitID string) error {
	cmdID := uuid.NewString()
	payload, err := json.Marshal(unitbus.Message{ID: unitID, CommandID: cmdID, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	var ack chan struct{}
	if b.ackTimeout > 0 {
		ack = make(chan struct{}, 1)
		b.mu.Lock()
		b.acks[cmdID] = ack
		b.mu.Unlock()
		defer func() {
			b.mu.Lock()
			delete(b.acks, cmdID)
			b.mu.Unlock()
		}()
	}

	topic := b.topics.Query(cmd, unitID)
	if err := b.publish(ctx, topic, b.qosFor("command"), payload); err != nil {
		coremon.CaptureException(err, map[string]string{"module": "mqtt", "command": string(cmd), "unit_id": unitID})
		return fmt.Errorf("%s %s: %w", cmd, unitID, err)
	}
	b.log.Infof("sent %s %s to %s", cmd, cmdID, topic)
	if ack == nil {
		return nil
	}

	timer := time.NewTimer(b.ackTimeout)
	defer timer.Stop()
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%s %s: %w", cmd, unitID, unitbus.ErrAckTimeout)
	}
}

// WaitClosed blocks until the unit reports its door closed or ctx ends.
func (b *UnitBus) WaitClosed(ctx context.Context, unitID string) error {
	ch := make(chan struct{})
	b.mu.Lock()
	b.doors[unitID] = append(b.doors[unitID], ch)
	b.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		waiters := b.doors[unitID]
		for i, w := range waiters {
			if w == ch {
				b.doors[unitID] = append(waiters[:i], waiters[i+1:]...)
				break
			}
		}
		if len(b.doors[unitID]) == 0 {
			delete(b.doors, unitID)
		}
		b.mu.Unlock()
		return ctx.Err()
	}
}

// Close gracefully closes the MQTT connection.
func (b *UnitBus) Close() error {
	if b.cli != nil && b.cli.IsConnected() {
		b.cli.Disconnect(250)
	}
	return nil
}
