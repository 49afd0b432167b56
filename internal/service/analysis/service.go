// Package analysis runs the upload-to-report pipeline and owns the
// persisted analysis history.
package analysis

import (
	"context"
	"io"
	"log"
	"time"
	"unicode/utf8"

	"pulse/internal/config"
	"pulse/internal/debuglog"
	"pulse/internal/models"
	"pulse/internal/service/ai"
	"pulse/internal/service/ingest"
)

const maxLoggedFilename = 64

// Upload is one file as received from the client.
type Upload struct {
	DeclaredType string
	Filename     string
	Size         int64
	Content      io.Reader
}

type Options struct {
	MaxUploadBytes int64
	MaxTextChars   int
	Deadline       time.Duration
	AbandonAfter   time.Duration
	// Scheduler is optional; without one every call gets its own goroutine.
	Scheduler Scheduler
}

// OptionsFromConfig converts the analysis section of the config file.
func OptionsFromConfig(cfg config.AnalysisConfig) Options {
	return Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		MaxTextChars:   cfg.MaxTextChars,
		Deadline:       time.Duration(cfg.TimeoutSeconds) * time.Second,
		AbandonAfter:   time.Duration(cfg.AbandonAfterSeconds) * time.Second,
	}
}

type Service struct {
	gate     *ingest.Gate
	invoker  *Invoker
	store    *Store
	maxChars int
}

func NewService(store *Store, summarizer ai.Summarizer, opts Options) *Service {
	maxChars := opts.MaxTextChars
	if maxChars <= 0 {
		maxChars = ingest.DefaultMaxTextChars
	}
	return &Service{
		gate:     ingest.NewGate(opts.MaxUploadBytes),
		invoker:  NewInvoker(summarizer, opts.Scheduler, opts.Deadline, opts.AbandonAfter),
		store:    store,
		maxChars: maxChars,
	}
}

// MaxUploadBytes is the largest file the gate admits.
func (s *Service) MaxUploadBytes() int64 {
	return s.gate.MaxBytes()
}

// Analyze admits, extracts, normalizes and summarizes the upload, then
// stores the result for ownerID. Any failure aborts the pipeline before
// anything is written.
func (s *Service) Analyze(ctx context.Context, ownerID int64, upload Upload) (*models.AnalysisRecord, error) {
	if upload.Content == nil {
		return nil, ErrNoFile
	}
	file, err := s.gate.Admit(upload.DeclaredType, upload.Filename, upload.Size, upload.Content)
	if err != nil {
		return nil, err
	}
	debuglog.Printf("[analysis] user %d admitted %s %q (%d bytes)", ownerID, file.Kind, logName(file.Filename), file.Size)

	extracted, err := ingest.Extract(ctx, file)
	if err != nil {
		return nil, err
	}
	normalized, err := ingest.Normalize(extracted, s.maxChars)
	if err != nil {
		return nil, err
	}
	if normalized.Truncated {
		log.Printf("[analysis] user %d %q truncated from %d to %d characters", ownerID, logName(file.Filename), normalized.OriginalChars, s.maxChars)
	}

	started := time.Now()
	summary, err := s.invoker.Invoke(ctx, ownerID, normalized)
	if err != nil {
		return nil, err
	}
	debuglog.Printf("[analysis] user %d summary ready in %s", ownerID, time.Since(started))

	return s.store.Create(ctx, ownerID, file.Filename, file.DeclaredType, normalized.Text, summary)
}

// History lists ownerID's records, newest first.
func (s *Service) History(ctx context.Context, ownerID int64) ([]models.AnalysisRecord, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

func (s *Service) Get(ctx context.Context, ownerID int64, id string) (*models.AnalysisRecord, error) {
	return s.store.Get(ctx, ownerID, id)
}

func (s *Service) Delete(ctx context.Context, ownerID int64, id string) error {
	return s.store.DeleteByID(ctx, ownerID, id)
}

// Count reports how many records ownerID has.
func (s *Service) Count(ctx context.Context, ownerID int64) (int, error) {
	return s.store.CountByOwner(ctx, ownerID)
}

func logName(name string) string {
	if utf8.RuneCountInString(name) <= maxLoggedFilename {
		return name
	}
	return string([]rune(name)[:maxLoggedFilename]) + "..."
}
