package processorsync

import (
	"context"
	"encoding/json"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/payrecon_backend/config"
	"github.com/mmdatafocus/payrecon_backend/workflow"
)

const (
	defaultRunFinishedTopic = "reconciliation-run-finished"
	defaultInitAttempts     = 3
)

// PubSubPublisher announces finished runs. It implements workflow.RunPublisher.
type PubSubPublisher struct {
	Topic        string
	CreateTopic  bool
	InitAttempts int

	// newClient defaults to config.GetClientWithAttempts.
	newClient func(ctx context.Context, maxAttempts int) (*pubsub.Client, error)

	mu    sync.Mutex
	topic *pubsub.Topic
}

var _ workflow.RunPublisher = (*PubSubPublisher)(nil)

func NewPubSubPublisher(s config.Settings) *PubSubPublisher {
	topic := s.RunFinishedTopic
	if topic == "" {
		topic = defaultRunFinishedTopic
	}
	return &PubSubPublisher{Topic: topic, CreateTopic: s.CreateTopic}
}

// resolveTopic keeps the topic only once it resolved; a failed init is
// retried on the next publish.
func (p *PubSubPublisher) resolveTopic(ctx context.Context) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		return p.topic, nil
	}

	newClient := p.newClient
	if newClient == nil {
		newClient = config.GetClientWithAttempts
	}
	attempts := p.InitAttempts
	if attempts <= 0 {
		attempts = defaultInitAttempts
	}
	client, err := newClient(ctx, attempts)
	if err != nil {
		return nil, err
	}
	topic := client.Topic(p.Topic)
	if p.CreateTopic {
		topic, err = config.CreateTopicIfNotExists(ctx, client, p.Topic)
		if err != nil {
			return nil, err
		}
	}
	p.topic = topic
	return topic, nil
}

func (p *PubSubPublisher) PublishRunFinished(ctx context.Context, msg workflow.RunFinishedMessage) error {
	topic, err := p.resolveTopic(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	res := topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id": msg.RunId,
			"status": string(msg.Status),
		},
	})
	_, err = res.Get(ctx)
	return err
}
