package catalogsync

import (
	"context"

	"bitbucket.org/mmdatafocus/pricelists_backend/config"
	"bitbucket.org/mmdatafocus/pricelists_backend/utils"
	"cloud.google.com/go/pubsub"
)

// StartPullConsumer consumes the task topic through a pull subscription,
// for deployments without a push endpoint (local workers, VMs). Ensures
// topic and subscription exist, then blocks in Receive until the context
// is cancelled. Messages are always acked: the dispatcher owns retries
// and records exhausted tasks, so Pub/Sub redelivery only covers crashes.
func StartPullConsumer(ctx context.Context, d *Dispatcher) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topicName := utils.EnvStringDefault("SYNC_TASKS_TOPIC", "catalog-sync-tasks")
	subName := utils.EnvStringDefault("SYNC_TASKS_SUBSCRIPTION", topicName+"-worker")

	topic, err := config.CreateTopicIfNotExists(client, topicName)
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, subName, topic)
	if err != nil {
		return err
	}

	logger := config.GetLogger()
	return sub.Receive(ctx, func(msgCtx context.Context, m *pubsub.Message) {
		var msg TaskMessage
		if err := utils.UnmarshalFromJSON(m.Data, &msg); err != nil || msg.Kind == "" {
			config.LogError(logger, "catalogsync", "StartPullConsumer", "decode task message", string(m.Data), err)
			m.Ack()
			return
		}
		if err := d.Dispatch(msgCtx, msg); err != nil {
			config.LogError(logger, "catalogsync", "StartPullConsumer", "dispatch task", msg, err)
		}
		m.Ack()
	})
}
