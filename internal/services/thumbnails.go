package services

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/models"
)

// FrameExtractor produces a still frame from a video stream for use as a
// thumbnail. Implementations typically shell out to a media decoder.
type FrameExtractor interface {
	// ExtractFrame reads the video and returns an encoded image stream plus
	// its aspect ratio.
	ExtractFrame(ctx context.Context, video io.Reader) (io.Reader, float64, error)
}

// UnsupportedExtractor is the default extractor on platforms without a media
// decoder: every request fails as unsupported.
type UnsupportedExtractor struct{}

func (UnsupportedExtractor) ExtractFrame(context.Context, io.Reader) (io.Reader, float64, error) {
	return nil, 0, common.ErrorThumbnailUnsupported
}

type thumbnailJob struct {
	ctx  context.Context
	id   models.AttachmentID
	done chan struct{}
	err  error
}

// ThumbnailPipeline serializes thumbnail generation onto a single worker.
// Jobs are scheduled most-recent-first: the thumbnail the user is currently
// looking at is generated before ones scrolled past. Concurrent requests for
// the same attachment share one generation via singleflight.
type ThumbnailPipeline struct {
	generate func(ctx context.Context, id models.AttachmentID) error
	log      logging.Logger

	group singleflight.Group

	mu    sync.Mutex
	stack []*thumbnailJob

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewThumbnailPipeline starts the worker. generate is invoked once per unique
// pending attachment id.
func NewThumbnailPipeline(generate func(ctx context.Context, id models.AttachmentID) error, log logging.Logger) *ThumbnailPipeline {
	p := &ThumbnailPipeline{
		generate: generate,
		log:      log,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Ensure blocks until a thumbnail generation attempt for id completes (or ctx
// is done). Callers arriving while a generation for the same id is in flight
// share its result.
func (p *ThumbnailPipeline) Ensure(ctx context.Context, id models.AttachmentID) error {
	key := strconv.FormatInt(id.RowID, 10)
	ch := p.group.DoChan(key, func() (any, error) {
		// The job outlives any single waiter; duplicate callers share it.
		job := &thumbnailJob{ctx: context.WithoutCancel(ctx), id: id, done: make(chan struct{})}
		if err := p.submit(job); err != nil {
			return nil, err
		}
		<-job.done
		return nil, job.err
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker. Queued jobs fail; the in-flight job finishes.
func (p *ThumbnailPipeline) Close() {
	close(p.stop)
	p.wg.Wait()
}

func (p *ThumbnailPipeline) submit(job *thumbnailJob) error {
	select {
	case <-p.stop:
		return fmt.Errorf("thumbnail pipeline stopped: %w", common.ErrorThumbnailUnavailable)
	default:
	}

	p.mu.Lock()
	p.stack = append(p.stack, job)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *ThumbnailPipeline) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			p.failPending()
			return
		case <-p.wake:
			for {
				job := p.pop()
				if job == nil {
					break
				}
				job.err = p.generate(job.ctx, job.id)
				if job.err != nil {
					p.log.Debug(job.ctx, "thumbnail generation failed", "id", job.id.String(), "error", job.err)
				}
				close(job.done)
			}
		}
	}
}

// pop takes the most recently submitted job.
func (p *ThumbnailPipeline) pop() *thumbnailJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.stack)
	if n == 0 {
		return nil
	}
	job := p.stack[n-1]
	p.stack = p.stack[:n-1]
	return job
}

func (p *ThumbnailPipeline) failPending() {
	p.mu.Lock()
	pending := p.stack
	p.stack = nil
	p.mu.Unlock()

	for _, job := range pending {
		job.err = fmt.Errorf("thumbnail pipeline stopped: %w", common.ErrorThumbnailUnavailable)
		close(job.done)
	}
}
