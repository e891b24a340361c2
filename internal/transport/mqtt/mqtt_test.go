package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"stream-orchestrator/internal/orchestrator"
	"stream-orchestrator/internal/platform/config"
)

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakeBroker struct {
	mu       sync.Mutex
	handlers map[string]MessageHandler
	msgs     []published
}

func (b *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, published{topic: topic, payload: payload, qos: qos, retained: retained})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, h MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[string]MessageHandler)
	}
	b.handlers[topic] = h
	return nil
}

func (b *fakeBroker) deliver(t *testing.T, pattern, topic string, payload any) error {
	t.Helper()
	b.mu.Lock()
	h, ok := b.handlers[pattern]
	b.mu.Unlock()
	if !ok {
		t.Fatalf("no handler for %q", pattern)
	}
	data, _ := json.Marshal(payload)
	return h(topic, data)
}

func (b *fakeBroker) last(t *testing.T) published {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.msgs) == 0 {
		t.Fatal("nothing published")
	}
	return b.msgs[len(b.msgs)-1]
}

type fakeRouter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *fakeRouter) record(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return r.err
}

func (r *fakeRouter) Route(_ context.Context, id orchestrator.StreamID, cmd orchestrator.Command) error {
	return r.record("route " + string(id) + " " + orchestrator.CommandName(cmd))
}

func (r *fakeRouter) RegisterSubscriber(_ context.Context, id orchestrator.StreamID, clientID, _ string) error {
	return r.record("register " + string(id) + " " + clientID)
}

func (r *fakeRouter) UnregisterSubscriber(_ context.Context, id orchestrator.StreamID, clientID string) error {
	return r.record("unregister " + string(id) + " " + clientID)
}

func (r *fakeRouter) Heartbeat(id orchestrator.StreamID, clientID string) error {
	return r.record("heartbeat " + string(id) + " " + clientID)
}

func (r *fakeRouter) lastCall() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return ""
	}
	return r.calls[len(r.calls)-1]
}

func newTestBridge(t *testing.T) (*Bridge, *fakeBroker, *fakeRouter) {
	t.Helper()
	broker := &fakeBroker{}
	router := &fakeRouter{}
	b := NewBridge(broker, router, Topics{Prefix: "test"}, 1, slog.New(slog.DiscardHandler))
	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	return b, broker, router
}

func decodeAck(t *testing.T, p published) Ack {
	t.Helper()
	var a Ack
	if err := json.Unmarshal(p.payload, &a); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return a
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "live/"}
	if got := topics.Command("s1"); got != "live/command/s1" {
		t.Errorf("expected live/command/s1, got %q", got)
	}
	if got := topics.State("s1"); got != "live/stream/s1/state" {
		t.Errorf("expected live/stream/s1/state, got %q", got)
	}
	if got := (Topics{}).AllSubscriptions(); got != "orchestrator/subscription/+" {
		t.Errorf("expected default prefix, got %q", got)
	}

	cases := []struct {
		topic string
		id    orchestrator.StreamID
		ok    bool
	}{
		{"live/command/s1", "s1", true},
		{"live/subscription/s2", "s2", true},
		{"live/ack/s1", "", false},
		{"live/command/", "", false},
		{"live/command/a/b", "", false},
		{"other/command/s1", "", false},
	}
	for _, tc := range cases {
		id, ok := topics.StreamID(tc.topic)
		if id != tc.id || ok != tc.ok {
			t.Errorf("StreamID(%q): expected (%q, %v), got (%q, %v)", tc.topic, tc.id, tc.ok, id, ok)
		}
	}
}

func TestBridge_handleCommand(t *testing.T) {
	_, broker, router := newTestBridge(t)

	if err := broker.deliver(t, "test/command/+", "test/command/s1", map[string]any{"action": "force_scene", "scene_name": "Outro"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := router.lastCall(); got != "route s1 force_scene" {
		t.Errorf("expected routed force_scene, got %q", got)
	}

	p := broker.last(t)
	if p.topic != "test/ack/s1" || p.retained {
		t.Errorf("expected non-retained ack on test/ack/s1, got %q retained=%v", p.topic, p.retained)
	}
	if a := decodeAck(t, p); a.Code != "ok" || a.Action != "force_scene" {
		t.Errorf("unexpected ack %+v", a)
	}
}

func TestBridge_handleCommand_rejected(t *testing.T) {
	_, broker, router := newTestBridge(t)
	router.err = orchestrator.ErrNotRunning

	broker.deliver(t, "test/command/+", "test/command/s1", map[string]any{"action": "pause"})
	if a := decodeAck(t, broker.last(t)); a.Code != "not_running" || a.Error == "" {
		t.Errorf("expected not_running ack, got %+v", a)
	}

	broker.deliver(t, "test/command/+", "test/command/s1", map[string]any{"action": "rewind"})
	if a := decodeAck(t, broker.last(t)); a.Code != "unknown_command" {
		t.Errorf("expected unknown_command ack, got %+v", a)
	}
}

func TestBridge_handleCommand_bad_payload(t *testing.T) {
	_, broker, router := newTestBridge(t)

	broker.mu.Lock()
	h := broker.handlers["test/command/+"]
	broker.mu.Unlock()
	err := h("test/command/s1", []byte("not json"))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
	if router.lastCall() != "" {
		t.Errorf("expected nothing routed, got %q", router.lastCall())
	}
	if a := decodeAck(t, broker.last(t)); a.Code != "bad_request" {
		t.Errorf("expected bad_request ack, got %+v", a)
	}
}

func TestBridge_handleSubscription(t *testing.T) {
	_, broker, router := newTestBridge(t)

	for _, action := range []string{SubscriptionRegister, SubscriptionHeartbeat, SubscriptionUnregister} {
		broker.deliver(t, "test/subscription/+", "test/subscription/s1", SubscriptionRequest{Action: action, ClientID: "c1"})
		if got, want := router.lastCall(), action+" s1 c1"; got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
		if a := decodeAck(t, broker.last(t)); a.Code != "ok" || a.ClientID != "c1" {
			t.Errorf("unexpected ack %+v", a)
		}
	}

	broker.deliver(t, "test/subscription/+", "test/subscription/s1", SubscriptionRequest{Action: "register"})
	if a := decodeAck(t, broker.last(t)); a.Code != "bad_request" {
		t.Errorf("expected bad_request without client_id, got %+v", a)
	}
}

func TestStatePublisher_Publish(t *testing.T) {
	broker := &fakeBroker{}
	p := NewStatePublisher(broker, Topics{Prefix: "test"}, 1)

	scene := "Main"
	st := orchestrator.State{IsRunning: true, CurrentActiveScene: &scene, CurrentTimeMS: 2500, TotalDurationMS: 9000}
	if err := p.Publish(context.Background(), "s1", st); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := broker.last(t)
	if msg.topic != "test/stream/s1/state" || !msg.retained {
		t.Errorf("expected retained state topic, got %q retained=%v", msg.topic, msg.retained)
	}
	var update orchestrator.StateUpdate
	json.Unmarshal(msg.payload, &update)
	if update.StreamID != "s1" || update.CurrentScene == nil || *update.CurrentScene != "Main" || update.CurrentTimeMS != 2500 {
		t.Errorf("unexpected update %+v", update)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Publish(ctx, "s1", st); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestClient_validation_before_connect(t *testing.T) {
	c := &Client{}
	if err := c.Publish("", nil, 0, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("expected ErrInvalidTopic, got %v", err)
	}
	if err := c.Publish("a", nil, 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("expected ErrInvalidQoS, got %v", err)
	}
	if err := c.Publish("a", make([]byte, maxPayloadSize+1), 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("expected ErrPublishFailed, got %v", err)
	}
	if err := c.Publish("a", []byte("x"), 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := c.Subscribe("a", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("expected ErrSubscribeFailed, got %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("expected nil close on unconnected client, got %v", err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTT{Host: "broker", Port: 1884, ClientID: "orch-1", Username: "u", Password: "p", TopicPrefix: "live"}
	opts := buildClientOptions(cfg)
	configureLWT(opts, Topics{Prefix: cfg.TopicPrefix}, cfg.ClientID)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://broker:1884" {
		t.Errorf("unexpected servers %v", opts.Servers)
	}
	if opts.ClientID != "orch-1" || opts.Username != "u" {
		t.Errorf("unexpected identity %q/%q", opts.ClientID, opts.Username)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Errorf("expected auto reconnect with clean session")
	}
	if !opts.WillEnabled || opts.WillTopic != "live/system/status" || !opts.WillRetained {
		t.Errorf("unexpected will: enabled=%v topic=%q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
}

func TestConnect_invalid_qos(t *testing.T) {
	if _, err := Connect(config.MQTT{QoS: 5}, nil); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("expected ErrInvalidQoS, got %v", err)
	}
}
