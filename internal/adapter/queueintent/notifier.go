// Package queueintent implements a notifier.Notifier that publishes
// notification intents onto the message queue. The notification delivery
// collaborator consumes the intents and decides channels and templates;
// this service only records that someone should be told something.
package queueintent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/proofworks/ProofWorks/internal/port/messagequeue"
	"github.com/proofworks/ProofWorks/internal/port/notifier"
)

const providerName = "queue-intent"

// Notifier publishes notification intents to the queue.
type Notifier struct {
	queue messagequeue.Queue
}

// NewNotifier creates a queue-backed intent notifier.
func NewNotifier(queue messagequeue.Queue) *Notifier {
	return &Notifier{queue: queue}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{
		Batching: false,
		Durable:  true,
	}
}

func (n *Notifier) Send(ctx context.Context, intent notifier.Intent) error {
	if n.queue == nil {
		return notifier.ErrNotConfigured
	}

	body, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("queue-intent marshal: %w", err)
	}

	if err := n.queue.Publish(ctx, messagequeue.SubjectNotifyIntent, body); err != nil {
		return fmt.Errorf("queue-intent publish: %w", err)
	}
	return nil
}
