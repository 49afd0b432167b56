package analysis

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pulse/internal/config"
	"pulse/internal/service/ingest"
	"pulse/internal/service/ingest/ingesttest"
)

func upload(declared, name string, content []byte) Upload {
	return Upload{DeclaredType: declared, Filename: name, Size: int64(len(content)), Content: bytes.NewReader(content)}
}

func newTestService(t *testing.T, summarizer summarizerFunc, opts Options) (*Service, *Store, int64) {
	t.Helper()
	store, db := newTestStore(t)
	owner := createUser(t, db, "alice")
	return NewService(store, summarizer, opts), store, owner
}

func TestAnalyzePersistsSummary(t *testing.T) {
	var seen string
	svc, store, owner := newTestService(t, func(ctx context.Context, text string) (string, error) {
		seen = text
		return "# Analysis Report", nil
	}, Options{Deadline: time.Second})

	pdf := ingesttest.PDF("Daily: Ana blocked on staging access")
	rec, err := svc.Analyze(context.Background(), owner, upload(ingest.MimePDF, "daily.pdf", pdf))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if rec.Summary != "# Analysis Report" || rec.FileName != "daily.pdf" || rec.FileType != ingest.MimePDF {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !strings.Contains(seen, "Ana blocked on staging access") || rec.OriginalText != seen {
		t.Fatalf("summarizer got %q, record holds %q", seen, rec.OriginalText)
	}

	list, err := svc.History(context.Background(), owner)
	if err != nil || len(list) != 1 || list[0].ID != rec.ID {
		t.Fatalf("History: %+v, %v", list, err)
	}
	if n, _ := store.CountByOwner(context.Background(), owner); n != 1 {
		t.Fatalf("expected one stored record, got %d", n)
	}
}

func TestAnalyzeFailuresStoreNothing(t *testing.T) {
	called := false
	svc, store, owner := newTestService(t, func(ctx context.Context, text string) (string, error) {
		called = true
		return "report", nil
	}, Options{Deadline: time.Second, MaxUploadBytes: 1 << 10})

	cases := []struct {
		name string
		in   Upload
		err  error
		kind Kind
	}{
		{"no file", Upload{DeclaredType: ingest.MimePlainText}, ErrNoFile, KindValidation},
		{"unsupported", upload("image/png", "a.png", []byte("\x89PNG")), ErrUnsupportedType, KindValidation},
		{"too large", upload(ingest.MimePlainText, "a.txt", bytes.Repeat([]byte("a"), 2<<10)), ErrFileTooLarge, KindValidation},
		{"bad signature", upload(ingest.MimePDF, "a.pdf", []byte("hello")), ErrInvalidFile, KindValidation},
		{"corrupt docx", upload(ingest.MimeDOCX, "a.docx", []byte("PK\x03\x04garbage")), ErrExtractionFailed, KindContent},
		{"whitespace only", upload(ingest.MimePlainText, "a.txt", []byte("   \n\t  \n ")), ErrEmptyContent, KindContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Analyze(context.Background(), owner, tc.in)
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			if KindOf(err) != tc.kind {
				t.Fatalf("kind = %s, want %s", KindOf(err), tc.kind)
			}
		})
	}
	if called {
		t.Fatalf("summarizer called for rejected input")
	}
	if n, _ := store.CountByOwner(context.Background(), owner); n != 0 {
		t.Fatalf("expected no records, got %d", n)
	}
}

func TestAnalyzeTimeoutNeverPersistsLateResult(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	svc, store, owner := newTestService(t, func(ctx context.Context, text string) (string, error) {
		defer close(finished)
		<-release
		return "late report", nil
	}, Options{Deadline: 20 * time.Millisecond, AbandonAfter: time.Minute})

	docx := ingesttest.DOCX("Review: demo went fine")
	_, err := svc.Analyze(context.Background(), owner, upload(ingest.MimeDOCX, "review.docx", docx))
	if !errors.Is(err, ErrTimeout) || KindOf(err) != KindUpstreamTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}

	close(release)
	<-finished
	if n, _ := store.CountByOwner(context.Background(), owner); n != 0 {
		t.Fatalf("late result persisted: %d records", n)
	}
}

func TestAnalyzeTruncatesLongText(t *testing.T) {
	var seen string
	svc, _, owner := newTestService(t, func(ctx context.Context, text string) (string, error) {
		seen = text
		return "ok", nil
	}, Options{Deadline: time.Second, MaxTextChars: 10})

	rec, err := svc.Analyze(context.Background(), owner, upload(ingest.MimePlainText, "long.txt", []byte("0123456789abcdef")))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if seen != "0123456789" || rec.OriginalText != "0123456789" {
		t.Fatalf("expected truncated text, summarizer got %q, record %q", seen, rec.OriginalText)
	}
}

func TestServiceDeleteAndGet(t *testing.T) {
	svc, store, owner := newTestService(t, func(ctx context.Context, text string) (string, error) {
		return "ok", nil
	}, Options{Deadline: time.Second})
	other := createUser(t, store.db, "bob")

	rec, err := svc.Analyze(context.Background(), owner, upload(ingest.MimePlainText, "a.txt", []byte("notes")))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, err := svc.Get(context.Background(), other, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Delete(context.Background(), other, rec.ID); KindOf(err) != KindAuthorization {
		t.Fatalf("expected authorization failure, got %v", err)
	}
	if err := svc.Delete(context.Background(), owner, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(context.Background(), owner, rec.ID); KindOf(err) != KindNotFound {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.AnalysisConfig{TimeoutSeconds: 30, AbandonAfterSeconds: 120, MaxUploadBytes: 5 << 20, MaxTextChars: 50000})
	if opts.Deadline != 30*time.Second || opts.AbandonAfter != 2*time.Minute {
		t.Fatalf("unexpected durations: %+v", opts)
	}
	svc := NewService(nil, nil, opts)
	if svc.MaxUploadBytes() != 5<<20 || svc.maxChars != 50000 {
		t.Fatalf("options not applied")
	}
}
