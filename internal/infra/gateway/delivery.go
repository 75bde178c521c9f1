// Package gateway connects the pipelines to the wider federation: the
// outbound delivery queue and its worker live here.
package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cloudillo/federation/client"
	"github.com/cloudillo/federation/internal/domain"
)

var tracer = otel.Tracer("gateway")

const (
	popTimeout      = time.Second
	deliveryTimeout = 10 * time.Second
	maxAttempts     = 5
)

// DeliveryJob is one pending (targetTag, token) transmission.
type DeliveryJob struct {
	TargetTag string `json:"targetTag"`
	ActionID  string `json:"actionId"`
	Token     string `json:"token"`
	Attempts  int    `json:"attempts"`
	NotBefore int64  `json:"notBefore,omitempty"`
}

// DeliveryQueue schedules outbound token deliveries on a redis list.
// Enqueue is fire-and-forget from the pipeline's point of view; the
// worker owns transmission and retry.
type DeliveryQueue struct {
	rdb *redis.Client
}

func NewDeliveryQueue(rdb *redis.Client) *DeliveryQueue {
	return &DeliveryQueue{rdb: rdb}
}

func (q *DeliveryQueue) Enqueue(ctx context.Context, targetTag, actionID, token string) error {
	return q.push(ctx, DeliveryJob{
		TargetTag: targetTag,
		ActionID:  actionID,
		Token:     token,
	})
}

func (q *DeliveryQueue) push(ctx context.Context, job DeliveryJob) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, domain.DeliveryQueueKey, b).Err()
}

func (q *DeliveryQueue) pop(ctx context.Context) (*DeliveryJob, error) {
	res, err := q.rdb.BRPop(ctx, popTimeout, domain.DeliveryQueueKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job DeliveryJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// DeliveryWorker drains the queue and posts tokens to their target
// inboxes. Failed deliveries are requeued with linear backoff up to
// maxAttempts; idempotent persistence on the receiving side makes
// re-delivery safe.
type DeliveryWorker struct {
	queue  *DeliveryQueue
	client *client.Client
}

func NewDeliveryWorker(queue *DeliveryQueue, cl *client.Client) *DeliveryWorker {
	return &DeliveryWorker{queue: queue, client: cl}
}

// Run blocks until ctx is cancelled.
func (w *DeliveryWorker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.pop(ctx)
		if err != nil {
			time.Sleep(popTimeout)
			continue
		}
		if job == nil {
			continue
		}
		w.process(ctx, job)
	}
}

func (w *DeliveryWorker) process(ctx context.Context, job *DeliveryJob) {
	ctx, span := tracer.Start(ctx, "Delivery.Process", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	if job.NotBefore > time.Now().Unix() {
		w.queue.push(ctx, *job)
		time.Sleep(popTimeout)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	err := w.client.DeliverToken(sendCtx, job.TargetTag, job.ActionID, job.Token)
	if err == nil {
		return
	}

	job.Attempts++
	if job.Attempts >= maxAttempts {
		span.RecordError(errors.Wrapf(err, "delivery to %s dropped after %d attempts", job.TargetTag, job.Attempts))
		return
	}
	job.NotBefore = time.Now().Add(time.Duration(job.Attempts) * 30 * time.Second).Unix()
	if err := w.queue.push(ctx, *job); err != nil {
		span.RecordError(errors.Wrap(err, "requeue failed"))
	}
}
