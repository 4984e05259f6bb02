package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightbot/flightbot-backend/internal/extraction"
	"github.com/flightbot/flightbot-backend/internal/repository"
	"github.com/flightbot/flightbot-backend/internal/repository/memory"
)

type fakeFetcher struct {
	files map[string][]byte
	calls []string
}

func (f *fakeFetcher) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	f.calls = append(f.calls, fileID)
	data, ok := f.files[fileID]
	if !ok {
		return nil, errors.New("file gone")
	}
	return data, nil
}

// fakeRasterizer splits "p1|p2|p3" document payloads into one image per
// part and tags normalized images so ordering is observable.
type fakeRasterizer struct{}

func (fakeRasterizer) PDFPages(data []byte) ([][]byte, error) {
	var pages [][]byte
	for _, part := range bytes.Split(data, []byte("|")) {
		pages = append(pages, part)
	}
	return pages, nil
}

func (fakeRasterizer) NormalizeImage(data []byte) []byte { return data }

type fakeExtractor struct {
	ticket *extraction.Ticket
	err    error
	images [][]byte
	calls  int
}

func (f *fakeExtractor) Extract(_ context.Context, images [][]byte) (*extraction.Ticket, error) {
	f.calls++
	f.images = images
	return f.ticket, f.err
}

type fakeRenderer struct {
	err error
}

func (f *fakeRenderer) Render(*extraction.Ticket) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-fake"), nil
}

func ticket() *extraction.Ticket {
	return &extraction.Ticket{
		Segments: []extraction.Segment{{Airline: "Air India Express", FromCode: "CNN", ToCode: "DOH"}},
	}
}

func newSessionWith(t *testing.T, repo repository.SessionRepository, refs ...repository.FileRef) *repository.Session {
	t.Helper()
	s, err := repo.GetOrCreateActive(context.Background(), 1, 10)
	require.NoError(t, err)
	for _, ref := range refs {
		s, err = repo.AppendFile(context.Background(), s.ID, ref)
		require.NoError(t, err)
	}
	return s
}

func newOrchestrator(repo repository.SessionRepository, fetcher FileFetcher, ext Extractor, rend Renderer) *Orchestrator {
	return New(repo, fetcher, fakeRasterizer{}, ext, rend, time.Minute, time.Minute)
}

func TestRun_OrdersRasterizedPagesInPlace(t *testing.T) {
	repo := memory.NewSessionRepository(15)
	newSessionWith(t, repo,
		repository.FileRef{FileID: "img1", Kind: repository.FileKindImage, Name: "a.jpg"},
		repository.FileRef{FileID: "img2", Kind: repository.FileKindImage, Name: "b.jpg"},
		repository.FileRef{FileID: "doc", Kind: repository.FileKindDocument, Name: "ticket.pdf"},
	)

	fetcher := &fakeFetcher{files: map[string][]byte{
		"img1": []byte("img1"),
		"img2": []byte("img2"),
		"doc":  []byte("page1|page2|page3"),
	}}
	ext := &fakeExtractor{ticket: ticket()}

	o := newOrchestrator(repo, fetcher, ext, &fakeRenderer{})
	result, err := o.Run(context.Background(), 1, 10)
	require.NoError(t, err)
	require.NotNil(t, result)

	// 2 images + 3 rasterized pages, submission order with pages in place.
	require.Len(t, ext.images, 5)
	want := []string{"img1", "img2", "page1", "page2", "page3"}
	for i, img := range ext.images {
		assert.Equal(t, want[i], string(img), "image %d", i)
	}

	s, err := getSession(repo, 1)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusDone, s.Status)
}

func TestRun_EmptySessionMakesNoExtractionCall(t *testing.T) {
	repo := memory.NewSessionRepository(15)
	ext := &fakeExtractor{ticket: ticket()}
	o := newOrchestrator(repo, &fakeFetcher{}, ext, &fakeRenderer{})

	// No session at all.
	_, err := o.Run(context.Background(), 1, 10)
	assert.ErrorIs(t, err, repository.ErrEmptySession)

	// A session with no files.
	_, err = repo.GetOrCreateActive(context.Background(), 1, 10)
	require.NoError(t, err)
	_, err = o.Run(context.Background(), 1, 10)
	assert.ErrorIs(t, err, repository.ErrEmptySession)

	assert.Zero(t, ext.calls)
}

func TestRun_SecondConcurrentTriggerRejected(t *testing.T) {
	repo := memory.NewSessionRepository(15)
	s := newSessionWith(t, repo, repository.FileRef{FileID: "img1", Kind: repository.FileKindImage})

	_, err := repo.MarkProcessing(context.Background(), s.ID)
	require.NoError(t, err)

	ext := &fakeExtractor{ticket: ticket()}
	o := newOrchestrator(repo, &fakeFetcher{}, ext, &fakeRenderer{})

	_, err = o.Run(context.Background(), 1, 10)
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Zero(t, ext.calls)
}

func TestRun_FetchFailureFailsSession(t *testing.T) {
	repo := memory.NewSessionRepository(15)
	s := newSessionWith(t, repo,
		repository.FileRef{FileID: "img1", Kind: repository.FileKindImage},
		repository.FileRef{FileID: "missing", Kind: repository.FileKindImage},
	)

	fetcher := &fakeFetcher{files: map[string][]byte{"img1": []byte("img1")}}
	ext := &fakeExtractor{ticket: ticket()}
	o := newOrchestrator(repo, fetcher, ext, &fakeRenderer{})

	_, err := o.Run(context.Background(), 1, 10)
	assert.ErrorIs(t, err, ErrFetch)
	// Fail-fast: no partial extraction over the files that did fetch.
	assert.Zero(t, ext.calls)

	got, err := getSessionByID(repo, s.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusFailed, got.Status)
}

func TestRun_ExtractionFailureFailsSession(t *testing.T) {
	repo := memory.NewSessionRepository(15)
	s := newSessionWith(t, repo, repository.FileRef{FileID: "img1", Kind: repository.FileKindImage})

	fetcher := &fakeFetcher{files: map[string][]byte{"img1": []byte("img1")}}
	ext := &fakeExtractor{err: fmt.Errorf("%w: twice invalid", extraction.ErrExtraction)}
	o := newOrchestrator(repo, fetcher, ext, &fakeRenderer{})

	_, err := o.Run(context.Background(), 1, 10)
	assert.ErrorIs(t, err, extraction.ErrExtraction)

	got, err := getSessionByID(repo, s.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusFailed, got.Status)
}

func TestRun_TicketWithoutSegmentsIsExtractionMiss(t *testing.T) {
	repo := memory.NewSessionRepository(15)
	newSessionWith(t, repo, repository.FileRef{FileID: "img1", Kind: repository.FileKindImage})

	fetcher := &fakeFetcher{files: map[string][]byte{"img1": []byte("img1")}}
	ext := &fakeExtractor{ticket: &extraction.Ticket{}}
	o := newOrchestrator(repo, fetcher, ext, &fakeRenderer{})

	_, err := o.Run(context.Background(), 1, 10)
	assert.ErrorIs(t, err, extraction.ErrExtraction)
}

func TestRun_RenderFailureFailsSession(t *testing.T) {
	repo := memory.NewSessionRepository(15)
	s := newSessionWith(t, repo, repository.FileRef{FileID: "img1", Kind: repository.FileKindImage})

	fetcher := &fakeFetcher{files: map[string][]byte{"img1": []byte("img1")}}
	rendErr := errors.New("template defect")
	o := newOrchestrator(repo, fetcher, &fakeExtractor{ticket: ticket()}, &fakeRenderer{err: rendErr})

	_, err := o.Run(context.Background(), 1, 10)
	assert.ErrorIs(t, err, rendErr)

	got, err := getSessionByID(repo, s.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusFailed, got.Status)
}

func getSession(repo *memory.SessionRepository, userID int64) (*repository.Session, error) {
	return repo.Last(userID)
}

func getSessionByID(repo *memory.SessionRepository, id string) (*repository.Session, error) {
	s, err := repo.Last(1)
	if err != nil {
		return nil, err
	}
	if s.ID != id {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return s, nil
}
