// Package inspection drives one user's inspection flow: staging photos,
// running the analysis in the background and holding the outcome.
package inspection

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bryanwahyu/defect-inspector/internal/application"
	domain "github.com/bryanwahyu/defect-inspector/internal/domain/inspection"
	"github.com/bryanwahyu/defect-inspector/internal/domain/intake"
	"github.com/bryanwahyu/defect-inspector/internal/domain/workflow"
)

// ErrBusy is returned for edits attempted while an analysis is running.
var ErrBusy = errors.New("analysis in progress")

// FailureMessage is the only failure text shown to the user.
const FailureMessage = "Failed to analyze images. Please check your API key and try again."

// Hooks are optional callbacks for metrics. They run with the session lock held
// and must not call back into the session.
type Hooks struct {
	RunStarted  func()
	RunFinished func(err error, elapsed time.Duration)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Analyzer domain.Analyzer
	Previews intake.PreviewStore
	Clock    application.Clock
	Logger   *log.Entry
	Hooks    Hooks
}

// StagedImage is the observable form of one staged photo.
type StagedImage struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Preview  string `json:"preview"`
}

// Snapshot is an immutable copy of a session's observable state.
type Snapshot struct {
	ID       string                 `json:"id"`
	State    string                 `json:"state"`
	Images   []StagedImage          `json:"images"`
	Comments string                 `json:"comments"`
	Result   *domain.AnalysisResult `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
	// InFlight stays true until the upstream call returns, even after a reset.
	InFlight bool                   `json:"in_flight"`
}

func (s Snapshot) Analyzing() bool { return s.State == workflow.StateAnalyzing }

// CanRun mirrors the run button: enabled with staged images and no run in flight.
func (s Snapshot) CanRun() bool { return len(s.Images) > 0 && !s.InFlight }

// Session is safe for concurrent use.
type Session struct {
	ID string

	mu       sync.Mutex
	deps     Deps
	log      *log.Entry
	intake   *intake.Intake
	machine  *workflow.Machine
	comments string
	result   *domain.AnalysisResult
	errMsg   string
	lastSeen time.Time

	// generation ties a background completion to the run that started it.
	generation uint64
	inFlight   bool
	done       chan struct{}
}

func NewSession(id string, deps Deps) (*Session, error) {
	if deps.Clock == nil {
		deps.Clock = application.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = log.NewEntry(log.StandardLogger())
	}
	if deps.Previews == nil {
		deps.Previews = intake.NewMemoryPreviews()
	}

	s := &Session{
		ID:     id,
		deps:   deps,
		log:    deps.Logger.WithField("session", id),
		intake: intake.New(deps.Previews),
	}
	machine, err := workflow.New(func() bool { return s.intake.Len() > 0 })
	if err != nil {
		return nil, err
	}
	s.machine = machine
	s.lastSeen = deps.Clock.Now()
	return s, nil
}

// AddImages stages images after the existing ones, in the given order.
func (s *Session) AddImages(images ...domain.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.machine.Is(workflow.StateAnalyzing) {
		return ErrBusy
	}
	if len(images) == 0 {
		return nil
	}
	if err := s.intake.Append(images...); err != nil {
		return err
	}
	s.log.WithField("count", len(images)).Debug("images staged")
	return nil
}

// RemoveImage drops the staged image at index k.
func (s *Session) RemoveImage(k int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.machine.Is(workflow.StateAnalyzing) {
		return ErrBusy
	}
	return s.intake.Remove(k)
}

func (s *Session) SetComments(comments string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.machine.Is(workflow.StateAnalyzing) {
		return ErrBusy
	}
	s.comments = comments
	return nil
}

// Run starts an analysis of the staged images in the background.
// It reports false when nothing was started: no images, or an upstream call
// still in flight, including one whose run was reset.
func (s *Session) Run() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.inFlight || s.machine.Is(workflow.StateAnalyzing) || s.intake.Len() == 0 {
		return false
	}
	if err := s.machine.Fire(workflow.EventRun); err != nil {
		s.log.WithError(err).Warn("run rejected")
		return false
	}

	s.result = nil
	s.errMsg = ""
	s.generation++
	s.inFlight = true

	// AnalysisRequest dibangun ulang tiap run dari state saat ini
	req := domain.AnalysisRequest{
		Images:   s.intake.Images(),
		Comments: s.comments,
	}
	done := make(chan struct{})
	s.done = done

	if s.deps.Hooks.RunStarted != nil {
		s.deps.Hooks.RunStarted()
	}
	s.log.WithFields(log.Fields{
		"images":     len(req.Images),
		"generation": s.generation,
	}).Info("analysis started")

	go s.execute(s.generation, req, done)
	return true
}

func (s *Session) execute(gen uint64, req domain.AnalysisRequest, done chan struct{}) {
	defer close(done)

	start := time.Now()
	result, err := s.deps.Analyzer.Analyze(context.Background(), req)
	if err == nil && result == nil {
		err = domain.Fail(domain.KindEmptyResponse, domain.ErrEmptyResponse)
	}
	s.complete(gen, result, err, time.Since(start))
}

func (s *Session) complete(gen uint64, result *domain.AnalysisResult, err error, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false

	if s.deps.Hooks.RunFinished != nil {
		s.deps.Hooks.RunFinished(err, elapsed)
	}

	entry := s.log.WithFields(log.Fields{
		"generation": gen,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	if gen != s.generation || !s.machine.Is(workflow.StateAnalyzing) {
		entry.Debug("discarding outcome of a run that was reset")
		return
	}

	if err != nil {
		entry.WithError(err).WithField("kind", domain.KindOf(err)).Error("analysis failed")
		s.errMsg = FailureMessage
		if ferr := s.machine.Fire(workflow.EventFail); ferr != nil {
			entry.WithError(ferr).Error("state transition failed")
		}
		return
	}

	s.result = result
	if ferr := s.machine.Fire(workflow.EventSucceed); ferr != nil {
		entry.WithError(ferr).Error("state transition failed")
		return
	}
	entry.WithField("kts", result.KTS).Info("analysis succeeded")
}

// Wait blocks until the latest run, if any, has landed.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Reset returns to the initial state: no images, comments, result or error.
// An in-flight run keeps going but its outcome is discarded, and no new run
// starts until it returns.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.reset()
}

func (s *Session) reset() {
	s.intake.Clear()
	s.comments = ""
	s.result = nil
	s.errMsg = ""
	s.generation++
	if err := s.machine.Fire(workflow.EventReset); err != nil {
		s.log.WithError(err).Error("reset transition failed")
	}
}

// Result returns a copy of the last successful result.
func (s *Session) Result() (domain.AnalysisResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return domain.AnalysisResult{}, false
	}
	return *s.result, true
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.intake.Entries()
	images := make([]StagedImage, len(entries))
	for i, e := range entries {
		images[i] = StagedImage{
			Index:    i,
			Name:     e.Image.Name,
			MIMEType: e.Image.MIMEType,
			Width:    e.Image.Width,
			Height:   e.Image.Height,
			Preview:  e.Preview,
		}
	}

	snap := Snapshot{
		ID:       s.ID,
		State:    s.machine.Current(),
		Images:   images,
		Comments: s.comments,
		Error:    s.errMsg,
		InFlight: s.inFlight,
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	return snap
}

// OwnsPreview reports whether handle belongs to one of this session's staged images.
func (s *Session) OwnsPreview(handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.intake.Entries() {
		if e.Preview == handle {
			return true
		}
	}
	return false
}

// Busy reports whether an upstream call is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch() {
	s.lastSeen = s.deps.Clock.Now()
}
