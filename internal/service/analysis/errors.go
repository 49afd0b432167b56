package analysis

import (
	"errors"

	"pulse/internal/service/ingest"
)

var (
	ErrNoFile         = errors.New("no file uploaded")
	ErrTimeout        = errors.New("analysis timed out")
	ErrAnalysisFailed = errors.New("analysis failed")
	ErrStorage        = errors.New("storage unavailable")
	ErrNotFound       = errors.New("analysis not found")
	ErrNotAuthorized  = errors.New("not authorized")
)

// Upload and extraction failures, surfaced from the ingest stage.
var (
	ErrUnsupportedType  = ingest.ErrUnsupportedType
	ErrFileTooLarge     = ingest.ErrFileTooLarge
	ErrInvalidFile      = ingest.ErrInvalidFile
	ErrExtractionFailed = ingest.ErrExtractionFailed
	ErrEmptyContent     = ingest.ErrEmptyContent
)

// Kind classifies a pipeline failure for the caller.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindContent
	KindUpstreamTimeout
	KindUpstreamFailure
	KindStorage
	KindAuthorization
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindContent:
		return "content"
	case KindUpstreamTimeout:
		return "upstream-timeout"
	case KindUpstreamFailure:
		return "upstream-failure"
	case KindStorage:
		return "storage"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not-found"
	default:
		return "internal"
	}
}

// KindOf maps err to its failure kind. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrNoFile),
		errors.Is(err, ErrUnsupportedType),
		errors.Is(err, ErrFileTooLarge),
		errors.Is(err, ErrInvalidFile):
		return KindValidation
	case errors.Is(err, ErrExtractionFailed), errors.Is(err, ErrEmptyContent):
		return KindContent
	case errors.Is(err, ErrTimeout):
		return KindUpstreamTimeout
	case errors.Is(err, ErrAnalysisFailed):
		return KindUpstreamFailure
	case errors.Is(err, ErrNotAuthorized):
		return KindAuthorization
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindInternal
	}
}
