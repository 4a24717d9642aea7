package service

import (
	"bitwise74/clip-ingest/util"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TypeGenerateClips is the task type consumed by the clip generation workers
const TypeGenerateClips = "clips:generate"

var (
	ErrQueueFull   = errors.New("job queue full")
	ErrQueueClosed = errors.New("job queue closed")
)

// ClipDispatcher hands a stored video over to clip generation. The receiving
// side is not part of this service
type ClipDispatcher interface {
	Dispatch(ctx context.Context, videoID string) error
	Close() error
}

type ClipPayload struct {
	VideoID string `json:"videoId"`
}

// AsynqDispatcher enqueues clip generation tasks on Redis
type AsynqDispatcher struct {
	c *asynq.Client
}

func NewAsynqDispatcher(redisAddr string) *AsynqDispatcher {
	return &AsynqDispatcher{
		c: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
	}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, videoID string) error {
	payload, err := json.Marshal(ClipPayload{VideoID: videoID})
	if err != nil {
		return err
	}

	info, err := d.c.EnqueueContext(ctx, asynq.NewTask(TypeGenerateClips, payload),
		asynq.TaskID(TypeGenerateClips+":"+videoID),
		asynq.Queue("clips"),
		asynq.MaxRetry(5),
		asynq.Timeout(time.Hour),
	)
	if err != nil {
		// Asking twice for the same video is not an error
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}

		return fmt.Errorf("failed to enqueue clip task, %w", err)
	}

	zap.L().Debug("Clip task enqueued", zap.String("video_id", videoID), zap.String("task_id", info.ID))
	return nil
}

func (d *AsynqDispatcher) Close() error {
	return d.c.Close()
}

// ClipHandler does the actual hand off for the local dispatcher
type ClipHandler func(ctx context.Context, videoID string) error

type ClipJob struct {
	ID      string
	VideoID string
}

// LocalDispatcher is an in-process worker queue, used when no Redis is
// configured. Dispatch never blocks, a full queue is reported to the caller
type LocalDispatcher struct {
	jobs    chan *ClipJob
	running atomic.Int32
	workers int
	handler ClipHandler
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewLocalDispatcher(workers, queueSize int, h ClipHandler) *LocalDispatcher {
	zap.L().Debug("Initializing clip job queue", zap.Int("workers", workers), zap.Int("queue_size", queueSize))

	if h == nil {
		h = LogClipHandler
	}

	return &LocalDispatcher{
		jobs:    make(chan *ClipJob, queueSize),
		workers: workers,
		handler: h,
		timeout: 5 * time.Minute,
	}
}

// LogClipHandler only records the request. It stands in for the clip
// generation service when nothing else is wired
func LogClipHandler(_ context.Context, videoID string) error {
	zap.L().Info("Clip generation requested", zap.String("video_id", videoID))
	return nil
}

func (q *LocalDispatcher) StartWorkerPool() {
	for range q.workers {
		q.wg.Add(1)
		go q.worker()
	}
}

func (q *LocalDispatcher) worker() {
	defer q.wg.Done()

	for job := range q.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := q.handler(ctx, job.VideoID)
		cancel()

		q.running.Add(-1)

		if err != nil {
			zap.L().Error("Clip job finished with an error",
				zap.String("video_id", job.VideoID),
				zap.String("job_id", job.ID),
				zap.Error(err))
		} else {
			zap.L().Debug("Clip job finished successfully", zap.String("job_id", job.ID))
		}
	}
}

func (q *LocalDispatcher) Dispatch(_ context.Context, videoID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	job := &ClipJob{ID: util.RandStr(5), VideoID: videoID}

	select {
	case q.jobs <- job:
		q.running.Add(1)
		zap.L().Debug("New clip job enqueued", zap.Int32("enqueued", q.running.Load()), zap.String("video_id", videoID))
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for the queued ones to finish
func (q *LocalDispatcher) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}
