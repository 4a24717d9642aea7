// Package client drives a single file from selection to a stored video on
// the ingestion server
package client

import (
	"bitwise74/clip-ingest/validators"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State string

const (
	StateIdle       State = "idle"
	StateSelected   State = "selected"
	StateValidating State = "validating"
	StateRejected   State = "rejected"
	StateReady      State = "ready"
	StateUploading  State = "uploading"
	StateUploaded   State = "uploaded"
	StateFailed     State = "failed"
)

const DefaultTimeout = 30 * time.Minute

// Snapshot is a consistent view of the controller at one point in time
type Snapshot struct {
	State     State
	Candidate *Candidate
	Progress  int
	Err       error
	VideoID   string
}

// Observer is called after every change, in the order the changes happened.
// Observers may read the controller but must not drive it
type Observer func(Snapshot)

type Options struct {
	Transport Transport
	Clips     ClipGenerator
	Preview   PreviewFunc
	Policy    validators.Policy
	Timeout   time.Duration
	Logger    *zap.Logger
}

type Controller struct {
	transport Transport
	clips     ClipGenerator
	preview   PreviewFunc
	policy    validators.Policy
	timeout   time.Duration
	log       *zap.Logger

	mu        sync.Mutex
	state     State
	candidate *Candidate
	pv        Preview
	progress  int
	err       error
	videoID   string
	gen       uint64
	observers []Observer

	// Held while observers run so they see changes in order
	notifyMu sync.Mutex
}

func New(opts Options) *Controller {
	c := &Controller{
		transport: opts.Transport,
		clips:     opts.Clips,
		preview:   opts.Preview,
		policy:    opts.Policy,
		timeout:   opts.Timeout,
		log:       opts.Logger,
		state:     StateIdle,
	}

	if c.preview == nil {
		c.preview = NoPreview
	}
	if c.policy.MaxSize == 0 {
		c.policy = validators.DefaultPolicy()
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}

	return c
}

// Validate checks a candidate against the default acceptance policy
func Validate(c Candidate) error {
	return validators.ValidateCandidate(validators.DefaultPolicy(), c.ContentType, c.Size)
}

func (c *Controller) Subscribe(o Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		State:    c.state,
		Progress: c.progress,
		Err:      c.err,
		VideoID:  c.videoID,
	}

	if c.candidate != nil {
		cand := *c.candidate
		s.Candidate = &cand
	}

	return s
}

// publish must be called with mu held. It releases mu
func (c *Controller) publish() {
	snap := c.snapshotLocked()
	observers := c.observers

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, o := range observers {
		o(snap)
	}
}

func (c *Controller) releasePreviewLocked() {
	if c.pv == nil {
		return
	}

	if err := c.pv.Release(); err != nil {
		c.log.Warn("Failed to release preview", zap.Error(err))
	}
	c.pv = nil
}

// SelectCandidate replaces the current candidate with the first of files and
// validates it. Extra files are ignored. The returned error is the validation
// result, the same one the snapshot carries
func (c *Controller) SelectCandidate(files ...Candidate) error {
	if len(files) == 0 {
		return nil
	}

	if len(files) > 1 {
		c.log.Debug("Only the first selected file is used", zap.Int("selected", len(files)))
	}

	cand := files[0]

	c.mu.Lock()
	if c.state == StateUploading {
		c.mu.Unlock()
		return ErrTransferInProgress
	}

	c.releasePreviewLocked()
	c.gen++
	gen := c.gen

	c.state = StateSelected
	c.candidate = &cand
	c.progress = 0
	c.err = nil
	c.videoID = ""
	c.publish()

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil
	}
	c.state = StateValidating
	c.publish()

	verr := validators.ValidateCandidate(c.policy, cand.ContentType, cand.Size)

	var pv Preview
	if verr == nil {
		var err error
		pv, err = c.preview(cand)
		if err != nil {
			c.log.Warn("Failed to create preview", zap.String("name", cand.Name), zap.Error(err))
			pv = nil
		}
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if pv != nil {
			if err := pv.Release(); err != nil {
				c.log.Warn("Failed to release preview", zap.Error(err))
			}
		}
		return verr
	}

	if verr != nil {
		c.state = StateRejected
		c.err = verr
		c.log.Debug("Candidate rejected", zap.String("name", cand.Name), zap.Error(verr))
	} else {
		c.state = StateReady
		c.pv = pv
	}
	c.publish()

	return verr
}

// Discard drops the candidate and goes back to idle
func (c *Controller) Discard() error {
	c.mu.Lock()
	if c.state == StateUploading {
		c.mu.Unlock()
		return ErrTransferInProgress
	}

	c.releasePreviewLocked()
	c.gen++

	c.state = StateIdle
	c.candidate = nil
	c.progress = 0
	c.err = nil
	c.videoID = ""
	c.publish()

	return nil
}

// BeginTransfer uploads the current candidate and blocks until the server
// answered. It's allowed from ready, and from failed to retry the same
// candidate
func (c *Controller) BeginTransfer(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateReady && c.state != StateFailed {
		state := c.state
		c.mu.Unlock()

		if state == StateUploading {
			return ErrTransferInProgress
		}
		return ErrInvalidState
	}

	cand := *c.candidate
	c.gen++
	gen := c.gen

	c.state = StateUploading
	c.progress = 0
	c.err = nil
	c.publish()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	c.log.Info("Starting upload", zap.String("name", cand.Name), zap.Int64("size", cand.Size))

	id, err := c.transfer(ctx, cand, gen)
	if err == nil && id == "" {
		err = &TransferError{Err: ErrNoVideoID}
	}

	c.mu.Lock()
	if err != nil {
		var terr *TransferError
		if !errors.As(err, &terr) {
			terr = &TransferError{Err: err}
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && terr.Err == nil {
			terr.Err = ctx.Err()
		}

		c.state = StateFailed
		c.err = terr
		c.publish()

		c.log.Warn("Upload failed",
			zap.String("name", cand.Name),
			zap.Bool("retryable", terr.Retryable()),
			zap.Error(terr))
		return terr
	}

	c.state = StateUploaded
	c.progress = 100
	c.videoID = id
	c.publish()

	c.log.Info("Upload finished", zap.String("video_id", id), zap.Duration("took", time.Since(start)))
	return nil
}

func (c *Controller) transfer(ctx context.Context, cand Candidate, gen uint64) (string, error) {
	if c.transport == nil {
		return "", &TransferError{Err: errors.New("no transport configured")}
	}

	return c.transport.Transfer(ctx, cand, func(sent, total int64) {
		c.onProgress(gen, sent, total)
	})
}

// onProgress maps sent bytes to a percentage. 100 is only reached once the
// server confirmed the upload
func (c *Controller) onProgress(gen uint64, sent, total int64) {
	if total <= 0 {
		return
	}

	pct := int(sent * 100 / total)
	pct = min(pct, 99)

	c.mu.Lock()
	if c.gen != gen || c.state != StateUploading || pct <= c.progress {
		c.mu.Unlock()
		return
	}

	c.progress = pct
	c.publish()
}

// HandOff passes the uploaded video on to clip generation
func (c *Controller) HandOff(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUploaded {
		c.mu.Unlock()
		return ErrInvalidState
	}
	id := c.videoID
	c.mu.Unlock()

	if c.clips == nil {
		return ErrNoClipGenerator
	}

	if err := c.clips.Generate(ctx, id); err != nil {
		c.log.Error("Failed to hand off video", zap.String("video_id", id), zap.Error(err))
		return err
	}

	c.log.Info("Video handed off", zap.String("video_id", id))
	return nil
}
