package inspection

import (
	"errors"
	"fmt"
)

var (
	// ErrAnalysisFailed covers every failed analysis attempt: transport, auth, empty or malformed response.
	ErrAnalysisFailed = errors.New("analysis failed")

	ErrEmptyResponse     = errors.New("empty response from analysis service")
	ErrMalformedResponse = errors.New("malformed response from analysis service")

	// ErrQuotaExceeded indicates the AI provider returned a quota/limit error (HTTP 429 or similar).
	ErrQuotaExceeded = errors.New("ai quota exceeded")

	// ErrNoImagesStaged is the local precondition failure of a run; callers treat it as a no-op.
	ErrNoImagesStaged = errors.New("no images staged")
)

// FailureKind narrows down an AnalysisError for logs and metrics.
type FailureKind string

const (
	KindEncoding          FailureKind = "encoding"
	KindTransport         FailureKind = "transport"
	KindEmptyResponse     FailureKind = "empty_response"
	KindMalformedResponse FailureKind = "malformed_response"
)

// AnalysisError is returned by Analyzer implementations.
// errors.Is matches both ErrAnalysisFailed and the wrapped cause.
type AnalysisError struct {
	Kind FailureKind
	Err  error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed (%s): %v", e.Kind, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

func (e *AnalysisError) Is(target error) bool { return target == ErrAnalysisFailed }

// Fail builds an AnalysisError of the given kind.
func Fail(kind FailureKind, err error) error {
	return &AnalysisError{Kind: kind, Err: err}
}

// KindOf returns the failure kind of err, or "" when err is not an AnalysisError.
func KindOf(err error) FailureKind {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
