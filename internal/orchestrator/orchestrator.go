package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flightbot/flightbot-backend/internal/extraction"
	"github.com/flightbot/flightbot-backend/internal/metrics"
	"github.com/flightbot/flightbot-backend/internal/render"
	"github.com/flightbot/flightbot-backend/internal/repository"
)

var (
	// ErrFetch means a session file could not be retrieved from the chat
	// platform. Any single fetch failure aborts the whole extraction.
	ErrFetch = errors.New("file fetch failed")
	// ErrTimeout means an external call exceeded its budget. The session is
	// marked failed rather than left stuck in processing.
	ErrTimeout = errors.New("operation timed out")
)

// FileFetcher resolves a platform file handle to raw bytes.
type FileFetcher interface {
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Rasterizer turns documents into ordered page images and normalizes plain
// images for the batched extraction call.
type Rasterizer interface {
	PDFPages(data []byte) ([][]byte, error)
	NormalizeImage(data []byte) []byte
}

// Extractor runs the batched vision extraction over the ordered image set.
type Extractor interface {
	Extract(ctx context.Context, images [][]byte) (*extraction.Ticket, error)
}

// Renderer turns an extracted ticket into document bytes.
type Renderer interface {
	Render(t *extraction.Ticket) ([]byte, error)
}

// Result is what a successful run hands back to the transport layer.
type Result struct {
	Ticket   *extraction.Ticket
	Document []byte
	Filename string
	Caption  string
}

// Orchestrator drives one session through fetch, rasterize, extract and
// render. The MarkProcessing compare-and-swap is the only concurrency
// control: at most one run per session, a concurrent trigger is rejected,
// never queued.
type Orchestrator struct {
	sessions       repository.SessionRepository
	fetcher        FileFetcher
	rasterizer     Rasterizer
	extractor      Extractor
	renderer       Renderer
	fetchTimeout   time.Duration
	extractTimeout time.Duration
	log            *logrus.Entry
}

// New creates an orchestrator. The timeouts bound the two blocking external
// calls so a run fails fast instead of outliving the hosting environment's
// request budget.
func New(
	sessions repository.SessionRepository,
	fetcher FileFetcher,
	rasterizer Rasterizer,
	extractor Extractor,
	renderer Renderer,
	fetchTimeout, extractTimeout time.Duration,
) *Orchestrator {
	return &Orchestrator{
		sessions:       sessions,
		fetcher:        fetcher,
		rasterizer:     rasterizer,
		extractor:      extractor,
		renderer:       renderer,
		fetchTimeout:   fetchTimeout,
		extractTimeout: extractTimeout,
		log:            logrus.WithField("component", "orchestrator"),
	}
}

// Run executes the extraction pipeline for the user's active session.
func (o *Orchestrator) Run(ctx context.Context, userID, chatID int64) (*Result, error) {
	start := time.Now()

	session, err := o.sessions.GetActive(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrEmptySession
		}
		return nil, err
	}
	if session.Status == repository.StatusProcessing {
		return nil, fmt.Errorf("trigger already in flight: %w", repository.ErrConflict)
	}

	// Exclusivity gate: exactly one concurrent trigger passes.
	session, err = o.sessions.MarkProcessing(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	log := o.log.WithFields(logrus.Fields{
		"user_id": userID,
		"session": session.ID,
		"files":   len(session.Files),
	})
	log.Info("extraction run started")

	result, err := o.process(ctx, session)
	if err != nil {
		metrics.Extractions.WithLabelValues("failed").Inc()
		if markErr := o.sessions.MarkFailed(ctx, session.ID, err.Error()); markErr != nil {
			log.WithError(markErr).Error("failed to mark session failed")
		}
		log.WithError(err).Warn("extraction run failed")
		return nil, err
	}

	if err := o.sessions.MarkDone(ctx, session.ID, result.Filename); err != nil {
		log.WithError(err).Error("failed to mark session done")
	}

	metrics.Extractions.WithLabelValues("done").Inc()
	metrics.ExtractionDuration.Observe(time.Since(start).Seconds())
	log.WithField("segments", len(result.Ticket.Segments)).Info("extraction run finished")
	return result, nil
}

// process runs everything between the processing and terminal transitions.
// The session is already gated; any error here moves it to failed.
func (o *Orchestrator) process(ctx context.Context, session *repository.Session) (*Result, error) {
	images, err := o.assembleImages(ctx, session.Files)
	if err != nil {
		return nil, err
	}
	metrics.BatchImages.Observe(float64(len(images)))

	extractCtx, cancel := context.WithTimeout(ctx, o.extractTimeout)
	defer cancel()

	ticket, err := o.extractor.Extract(extractCtx, images)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("extraction call: %w", ErrTimeout)
		}
		return nil, err
	}
	if !ticket.Complete() {
		return nil, fmt.Errorf("%w: no flight segments identified", extraction.ErrExtraction)
	}

	doc, err := o.renderer.Render(ticket)
	if err != nil {
		return nil, err
	}

	return &Result{
		Ticket:   ticket,
		Document: doc,
		Filename: render.Filename(ticket),
		Caption:  render.Caption(ticket),
	}, nil
}

// assembleImages fetches every session file and builds the ordered image
// set: rasterized pages replace their source document in place, in page
// order. A single fetch or rasterization failure aborts the run.
func (o *Orchestrator) assembleImages(ctx context.Context, files repository.FileRefs) ([][]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	defer cancel()

	var images [][]byte
	for _, ref := range files {
		raw, err := o.fetcher.DownloadFile(fetchCtx, ref.FileID)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("fetch %s: %w", ref.Name, ErrTimeout)
			}
			return nil, fmt.Errorf("fetch %s: %v: %w", ref.Name, err, ErrFetch)
		}

		if ref.Kind == repository.FileKindDocument {
			pages, err := o.rasterizer.PDFPages(raw)
			if err != nil {
				return nil, fmt.Errorf("rasterize %s: %v: %w", ref.Name, err, ErrFetch)
			}
			images = append(images, pages...)
		} else {
			images = append(images, o.rasterizer.NormalizeImage(raw))
		}
	}
	return images, nil
}
