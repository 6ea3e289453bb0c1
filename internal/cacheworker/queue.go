package cacheworker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// RedisQueue persists cache/uncache requests to Redis so they survive a
// process restart, instead of living only in the in-memory FIFO. It is
// the production front door to Worker; Worker itself stays storage-
// agnostic so its eviction logic can be tested without Redis. Grounded
// directly on the teacher's internal/jobs/queue.go Queue type.
const taskTypeCacheRequest = "cacheworker:request"

type cachePayload struct {
	MediaID uuid.UUID `json:"media_id"`
	Evict   bool      `json:"evict"`
	Sweep   bool      `json:"sweep"`
}

type RedisQueue struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	worker *Worker
}

func NewRedisQueue(redisAddr string, worker *Worker) *RedisQueue {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}
	q := &RedisQueue{
		client: asynq.NewClient(redisOpt),
		server: asynq.NewServer(redisOpt, asynq.Config{Concurrency: 1}),
		mux:    asynq.NewServeMux(),
		worker: worker,
	}
	q.mux.HandleFunc(taskTypeCacheRequest, q.handle)
	return q
}

func (q *RedisQueue) handle(ctx context.Context, t *asynq.Task) error {
	var p cachePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("cacheworker: unmarshal payload: %w", err)
	}
	if p.Sweep {
		q.worker.CacheSubscriptions()
		return nil
	}
	if p.Evict {
		q.worker.RemoveCached(p.MediaID)
		return nil
	}
	return q.worker.CacheMedia(p.MediaID)
}

func (q *RedisQueue) enqueue(p cachePayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("cacheworker: marshal payload: %w", err)
	}
	_, err = q.client.Enqueue(asynq.NewTask(taskTypeCacheRequest, data))
	return err
}

func (q *RedisQueue) EnqueueCacheMedia(mediaID uuid.UUID) error {
	return q.enqueue(cachePayload{MediaID: mediaID})
}

func (q *RedisQueue) EnqueueRemoveCached(mediaID uuid.UUID) error {
	return q.enqueue(cachePayload{MediaID: mediaID, Evict: true})
}

func (q *RedisQueue) EnqueueSweep() error {
	return q.enqueue(cachePayload{Sweep: true})
}

func (q *RedisQueue) Start() error {
	return q.server.Start(q.mux)
}

func (q *RedisQueue) Stop() {
	q.server.Shutdown()
	q.client.Close()
}
