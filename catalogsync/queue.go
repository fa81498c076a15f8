package catalogsync

import (
	"context"
	"errors"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pricelists_backend/config"
	"bitbucket.org/mmdatafocus/pricelists_backend/models"
	"bitbucket.org/mmdatafocus/pricelists_backend/utils"
	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
)

// PublishTask enqueues one task message on the sync topic. Delivery is
// at-least-once; handlers must tolerate redelivery.
func PublishTask(ctx context.Context, msg TaskMessage) error {
	if msg.TaskId == "" || msg.Kind == "" {
		return errors.New("task_id and kind are required")
	}

	topicName := strings.TrimSpace(os.Getenv("SYNC_TASKS_TOPIC"))
	if topicName == "" {
		topicName = "catalog-sync-tasks"
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if utils.EnvBoolDefault("SYNC_TASKS_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	data, err := utils.MarshalToJSON(msg)
	if err != nil {
		return err
	}
	res := topic.Publish(ctx, &pubsub.Message{Data: []byte(data)})
	_, err = res.Get(ctx)
	return err
}

type taskRetryConfig struct {
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func getTaskRetryConfig() taskRetryConfig {
	cfg := taskRetryConfig{
		maxAttempts: 5,
		baseBackoff: 2 * time.Second,
		maxBackoff:  5 * time.Minute,
	}

	if v := os.Getenv("SYNC_TASK_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.maxAttempts = n
		}
	}
	if v := os.Getenv("SYNC_TASK_BASE_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.baseBackoff = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("SYNC_TASK_MAX_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.maxBackoff = time.Duration(n) * time.Second
		}
	}

	return cfg
}

func taskBackoff(attempt int, cfg taskRetryConfig) time.Duration {
	if attempt <= 0 {
		return cfg.baseBackoff
	}
	// base * 2^(attempt-1), capped.
	exp := float64(attempt - 1)
	delay := time.Duration(float64(cfg.baseBackoff) * math.Pow(2, exp))
	if delay > cfg.maxBackoff {
		return cfg.maxBackoff
	}
	return delay
}

// TaskHandler processes one delivered task. A returned error marks the
// attempt as failed and triggers a backoff retry.
type TaskHandler func(ctx context.Context, msg TaskMessage) error

// Dispatcher routes delivered task messages to their handler with bounded
// retry. After the attempt budget is exhausted the task is recorded as
// failed (ParsingLog, task level) and reported to the exhaustion hook;
// it is never silently dropped.
type Dispatcher struct {
	handlers    map[string]TaskHandler
	cfg         taskRetryConfig
	logger      *logrus.Logger
	sleep       func(time.Duration)
	onExhausted func(msg TaskMessage, err error)
}

func NewDispatcher(logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: map[string]TaskHandler{},
		cfg:      getTaskRetryConfig(),
		logger:   logger,
		sleep:    time.Sleep,
	}
}

func (d *Dispatcher) Register(kind string, h TaskHandler) {
	d.handlers[kind] = h
}

// SetExhaustedHook installs the callback invoked after all retries failed.
func (d *Dispatcher) SetExhaustedHook(fn func(msg TaskMessage, err error)) {
	d.onExhausted = fn
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg TaskMessage) error {
	h := d.handlers[msg.Kind]
	if h == nil {
		return errors.New("unknown task kind: " + msg.Kind)
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.maxAttempts; attempt++ {
		lastErr = h(ctx, msg)
		if lastErr == nil {
			return nil
		}
		if d.logger != nil {
			d.logger.WithFields(logrus.Fields{
				"task_id": msg.TaskId,
				"kind":    msg.Kind,
				"attempt": attempt,
			}).Warn(lastErr.Error())
		}
		if attempt < d.cfg.maxAttempts {
			d.sleep(taskBackoff(attempt, d.cfg))
		}
	}

	recordTaskFailure(ctx, msg, lastErr)
	if d.onExhausted != nil {
		d.onExhausted(msg, lastErr)
	}
	return lastErr
}

// recordTaskFailure writes the task-level ParsingLog entry for a task that
// exhausted its retry budget.
func recordTaskFailure(ctx context.Context, msg TaskMessage, err error) {
	db := config.GetDB()
	if db == nil || err == nil {
		return
	}
	entry := models.ParsingLog{
		TaskId:    msg.TaskId,
		Level:     models.ParsingLogLevelTask,
		ErrorCode: "retries_exhausted",
		Message:   err.Error(),
	}
	if msg.SupplierId != 0 {
		id := msg.SupplierId
		entry.SupplierId = &id
	}
	_ = db.WithContext(ctx).Create(&entry).Error
}
