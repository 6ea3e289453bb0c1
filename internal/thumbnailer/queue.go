package thumbnailer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/crypto/blake2b"

	"github.com/mediavault/libcatalog/internal/models"
)

// RedisQueue persists thumbnail requests to Redis, grounded directly on
// the teacher's internal/jobs/queue.go Queue type, generalised to this
// worker's own payload shape.
const taskTypeThumbnailRequest = "thumbnailer:request"

type thumbPayload struct {
	MediaID       uuid.UUID                `json:"media_id"`
	SizeType      models.ThumbnailSizeType `json:"size_type"`
	DesiredWidth  int                      `json:"desired_width"`
	DesiredHeight int                      `json:"desired_height"`
	Position      float64                  `json:"position"`
	Sweep         bool                     `json:"sweep"`
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
	q.mux.HandleFunc(taskTypeThumbnailRequest, q.handle)
	return q
}

func (q *RedisQueue) handle(ctx context.Context, t *asynq.Task) error {
	var p thumbPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("thumbnailer: unmarshal payload: %w", err)
	}
	if p.Sweep {
		q.worker.Enqueue(Task{})
		return nil
	}
	q.worker.Enqueue(Task{
		MediaID: &p.MediaID, SizeType: p.SizeType,
		DesiredWidth: p.DesiredWidth, DesiredHeight: p.DesiredHeight, Position: p.Position,
	})
	return nil
}

func (q *RedisQueue) EnqueueThumbnail(mediaID uuid.UUID, sizeType models.ThumbnailSizeType, width, height int, position float64) error {
	data, err := json.Marshal(thumbPayload{MediaID: mediaID, SizeType: sizeType, DesiredWidth: width, DesiredHeight: height, Position: position})
	if err != nil {
		return fmt.Errorf("thumbnailer: marshal payload: %w", err)
	}
	_, err = q.client.Enqueue(asynq.NewTask(taskTypeThumbnailRequest, data))
	return err
}

func (q *RedisQueue) Start() error {
	return q.server.Start(q.mux)
}

func (q *RedisQueue) Stop() {
	q.server.Shutdown()
	q.client.Close()
}

// HashSourceMRL derives a stable, filesystem-safe key for a source mrl:
// the hex-encoded blake2b-256 digest of the mrl string.
func HashSourceMRL(mrlStr string) string {
	sum := blake2b.Sum256([]byte(mrlStr))
	return hex.EncodeToString(sum[:])
}
