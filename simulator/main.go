package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/parlock/core/unitbus"
)

func main() {
	cfg := parseFlags()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if !cfg.Verbose {
		log.SetOutput(io.Discard)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli, err := newMQTTClient(cfg.Broker, "sim-units-"+strings.Join(cfg.Units, "-"))
	if err != nil {
		log.Fatalf("mqtt: %v", err)
	}
	defer cli.Disconnect(250)

	topics := unitbus.DefaultTopics()
	if cfg.QueryRoot != "" {
		topics.QueryRoot = cfg.QueryRoot
	}
	if cfg.ReplyRoot != "" {
		topics.ReplyRoot = cfg.ReplyRoot
	}
	bank := NewBank(cfg.Units, topics, RandomAck{Delay: cfg.AckLatency, DropRate: cfg.DropRate}, pahoPublisher{cli: cli})
	bank.DoorDelay = cfg.DoorDelay

	handler := func(_ paho.Client, msg paho.Message) {
		go bank.Handle(ctx, msg.Topic(), msg.Payload())
	}
	if token := cli.Subscribe(topics.QueryFilter(), 1, handler); token.Wait() && token.Error() != nil {
		log.Fatalf("subscribe: %v", token.Error())
	}
	log.Printf("simulating units %v on %s", cfg.Units, cfg.Broker)
	<-ctx.Done()
}

func parseFlags() Config {
	var cfg Config
	var units string
	flag.StringVar(&cfg.Broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.StringVar(&units, "units", "u1,u2,u3", "comma separated unit ids")
	flag.StringVar(&cfg.QueryRoot, "query-root", unitbus.DefaultQueryRoot, "query topic root")
	flag.StringVar(&cfg.ReplyRoot, "reply-root", unitbus.DefaultReplyRoot, "reply topic root")
	flag.DurationVar(&cfg.AckLatency, "ack-latency", 0, "ack latency")
	flag.Float64Var(&cfg.DropRate, "drop-rate", 0, "ack drop rate")
	flag.DurationVar(&cfg.DoorDelay, "door-delay", 3*time.Second, "time a door stays open after unlock, 0 to never close")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "enable verbose logging")
	flag.Parse()
	for _, u := range strings.Split(units, ",") {
		if u = strings.TrimSpace(u); u != "" {
			cfg.Units = append(cfg.Units, u)
		}
	}
	return cfg
}
