package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"stream-orchestrator/internal/orchestrator"
)

// StatePublisher writes retained state snapshots to
// {prefix}/stream/{stream_id}/state. It satisfies supervisor.Publisher.
type StatePublisher struct {
	broker Broker
	topics Topics
	qos    byte
}

func NewStatePublisher(broker Broker, topics Topics, qos byte) *StatePublisher {
	return &StatePublisher{broker: broker, topics: topics, qos: qos}
}

// Publish sends the flattened update for st.
func (p *StatePublisher) Publish(ctx context.Context, id orchestrator.StreamID, st orchestrator.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(orchestrator.NewStateUpdate(id, st))
	if err != nil {
		return fmt.Errorf("encode state for %q: %w", id, err)
	}
	return p.broker.Publish(p.topics.State(id), data, p.qos, true)
}
