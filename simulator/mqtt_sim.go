package main

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

func newMQTTClient(broker, clientID string) (paho.Client, error) {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts.AutoReconnect = true
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return cli, nil
}

// pahoPublisher publishes replies at QoS 1.
type pahoPublisher struct {
	cli paho.Client
}

func (p pahoPublisher) Publish(topic string, payload []byte) error {
	token := p.cli.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	return token.Error()
}
