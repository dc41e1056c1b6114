package dispatch

import (
	"context"

	"gocloud.dev/pubsub"

	"github.com/stakemint/sagad/pkg/api"
)

// TopicPublisher sends step-ready notices to a broker topic
type TopicPublisher struct {
	topic *pubsub.Topic
}

// NewTopicPublisher wraps an open broker topic
func NewTopicPublisher(topic *pubsub.Topic) *TopicPublisher {
	return &TopicPublisher{topic: topic}
}

// Publish encodes and sends a notice
func (p *TopicPublisher) Publish(ctx context.Context, n *api.Notice) error {
	body, err := n.Encode()
	if err != nil {
		return err
	}
	return p.topic.Send(ctx, &pubsub.Message{
		Body: body,
		Metadata: map[string]string{
			"step_kind": string(n.StepKind),
		},
	})
}

// Shutdown flushes and closes the topic
func (p *TopicPublisher) Shutdown(ctx context.Context) error {
	return p.topic.Shutdown(ctx)
}
