package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stream-orchestrator/internal/orchestrator"
)

// Broker is the slice of Client the bridge and publisher need.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// Router is the slice of the supervisor the bridge drives.
type Router interface {
	Route(ctx context.Context, id orchestrator.StreamID, cmd orchestrator.Command) error
	RegisterSubscriber(ctx context.Context, id orchestrator.StreamID, clientID, addr string) error
	UnregisterSubscriber(ctx context.Context, id orchestrator.StreamID, clientID string) error
	Heartbeat(id orchestrator.StreamID, clientID string) error
}

// Subscription actions.
const (
	SubscriptionRegister   = "register"
	SubscriptionUnregister = "unregister"
	SubscriptionHeartbeat  = "heartbeat"
)

// SubscriptionRequest is the payload on {prefix}/subscription/{stream_id}.
type SubscriptionRequest struct {
	Action     string `json:"action"`
	ClientID   string `json:"client_id"`
	SourceAddr string `json:"source_addr,omitempty"`
}

// Ack is published on {prefix}/ack/{stream_id} after every inbound message.
type Ack struct {
	StreamID orchestrator.StreamID `json:"stream_id"`
	Action   string                `json:"action"`
	ClientID string                `json:"client_id,omitempty"`
	Code     string                `json:"code"`
	Error    string                `json:"error,omitempty"`
}

const defaultRouteTimeout = 5 * time.Second

// Bridge feeds broker messages into the supervisor.
type Bridge struct {
	broker Broker
	router Router
	topics Topics
	qos    byte
	log    *slog.Logger
}

// NewBridge returns a Bridge that reads from and acks on broker.
func NewBridge(broker Broker, router Router, topics Topics, qos byte, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{broker: broker, router: router, topics: topics, qos: qos, log: log}
}

// Start subscribes to the command and subscription topics of every stream.
func (b *Bridge) Start() error {
	if err := b.broker.Subscribe(b.topics.AllCommands(), b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}
	if err := b.broker.Subscribe(b.topics.AllSubscriptions(), b.qos, b.handleSubscription); err != nil {
		return fmt.Errorf("subscribe subscriptions: %w", err)
	}
	b.log.Info("mqtt bridge started",
		slog.String("commands", b.topics.AllCommands()),
		slog.String("subscriptions", b.topics.AllSubscriptions()))
	return nil
}

func (b *Bridge) handleCommand(topic string, payload []byte) error {
	id, ok := b.topics.StreamID(topic)
	if !ok {
		return fmt.Errorf("%w: topic %q", ErrInvalidTopic, topic)
	}

	var req orchestrator.CommandRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.ack(Ack{StreamID: id, Code: "bad_request", Error: "invalid JSON payload"})
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRouteTimeout)
	defer cancel()

	cmd, err := req.ToCommand()
	if err == nil {
		err = b.router.Route(ctx, id, cmd)
	}
	b.ack(ackFor(id, req.Action, "", err))
	if err != nil && errors.Is(err, orchestrator.ErrInternal) {
		return err
	}
	return nil
}

func (b *Bridge) handleSubscription(topic string, payload []byte) error {
	id, ok := b.topics.StreamID(topic)
	if !ok {
		return fmt.Errorf("%w: topic %q", ErrInvalidTopic, topic)
	}

	var req SubscriptionRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.ClientID == "" {
		b.ack(Ack{StreamID: id, Action: req.Action, Code: "bad_request", Error: "client_id required"})
		return ErrInvalidPayload
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRouteTimeout)
	defer cancel()

	var err error
	switch req.Action {
	case SubscriptionRegister:
		err = b.router.RegisterSubscriber(ctx, id, req.ClientID, req.SourceAddr)
	case SubscriptionUnregister:
		err = b.router.UnregisterSubscriber(ctx, id, req.ClientID)
	case SubscriptionHeartbeat:
		err = b.router.Heartbeat(id, req.ClientID)
	default:
		err = fmt.Errorf("%w: %q", orchestrator.ErrUnknownCommand, req.Action)
	}
	b.ack(ackFor(id, req.Action, req.ClientID, err))
	return nil
}

func ackFor(id orchestrator.StreamID, action, clientID string, err error) Ack {
	a := Ack{StreamID: id, Action: action, ClientID: clientID, Code: orchestrator.Code(err)}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

func (b *Bridge) ack(a Ack) {
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := b.broker.Publish(b.topics.Ack(a.StreamID), data, b.qos, false); err != nil {
		b.log.Warn("mqtt ack failed", slog.String("stream_id", string(a.StreamID)), slog.Any("error", err))
	}
}
