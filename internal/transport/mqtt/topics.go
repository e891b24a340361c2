package mqtt

import (
	"fmt"
	"strings"

	"stream-orchestrator/internal/orchestrator"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "orchestrator"

// Topics builds the orchestrator topic hierarchy under Prefix:
//
//	{prefix}/command/{stream_id}        inbound commands
//	{prefix}/subscription/{stream_id}   inbound register/unregister/heartbeat
//	{prefix}/ack/{stream_id}            command results
//	{prefix}/stream/{stream_id}/state   retained state snapshots
//	{prefix}/system/status              retained online/offline status
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// Command returns the command topic for id.
func (t Topics) Command(id orchestrator.StreamID) string {
	return fmt.Sprintf("%s/command/%s", t.prefix(), id)
}

// AllCommands matches the command topic of every stream.
func (t Topics) AllCommands() string {
	return t.prefix() + "/command/+"
}

// Subscription returns the subscription topic for id.
func (t Topics) Subscription(id orchestrator.StreamID) string {
	return fmt.Sprintf("%s/subscription/%s", t.prefix(), id)
}

func (t Topics) AllSubscriptions() string {
	return t.prefix() + "/subscription/+"
}

// Ack returns the topic command results are published on.
func (t Topics) Ack(id orchestrator.StreamID) string {
	return fmt.Sprintf("%s/ack/%s", t.prefix(), id)
}

// State returns the retained state topic for id.
func (t Topics) State(id orchestrator.StreamID) string {
	return fmt.Sprintf("%s/stream/%s/state", t.prefix(), id)
}

func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// StreamID extracts the stream id from a command or subscription topic.
func (t Topics) StreamID(topic string) (orchestrator.StreamID, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/")
	if !ok {
		return "", false
	}
	kind, id, ok := strings.Cut(rest, "/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	if kind != "command" && kind != "subscription" {
		return "", false
	}
	return orchestrator.StreamID(id), true
}
