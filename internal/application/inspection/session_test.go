package inspection

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/defect-inspector/internal/domain/inspection"
	"github.com/bryanwahyu/defect-inspector/internal/domain/intake"
	"github.com/bryanwahyu/defect-inspector/internal/domain/workflow"
)

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*domain.AnalysisResult)
	return res, args.Error(1)
}

func quietLogger() *log.Entry {
	l := log.New()
	l.SetOutput(io.Discard)
	return log.NewEntry(l)
}

func img(name string) domain.Image {
	return domain.Image{Name: name, MIMEType: "image/jpeg", Data: []byte(name)}
}

func firstImage(name string) interface{} {
	return mock.MatchedBy(func(req domain.AnalysisRequest) bool {
		return len(req.Images) > 0 && req.Images[0].Name == name
	})
}

func goodResult() *domain.AnalysisResult {
	return &domain.AnalysisResult{
		Defect:             "Трещина",
		Code:               "A.3",
		Description:        "desc",
		NormativeReference: "ref",
		KTS:                "III",
		Measures:           "m",
		Priority:           "Planned",
		RepairMethods:      "r",
		Confidence:         70,
		Reasoning:          "why",
	}
}

type fixture struct {
	session  *Session
	analyzer *mockAnalyzer
	previews *intake.MemoryPreviews
	finished chan error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		analyzer: &mockAnalyzer{},
		previews: intake.NewMemoryPreviews(),
		finished: make(chan error, 8),
	}
	s, err := NewSession("s-1", Deps{
		Analyzer: f.analyzer,
		Previews: f.previews,
		Logger:   quietLogger(),
		Hooks: Hooks{
			RunFinished: func(err error, _ time.Duration) { f.finished <- err },
		},
	})
	require.NoError(t, err)
	f.session = s
	return f
}

func TestRunWithoutImagesIsNoop(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.session.Run())
	f.session.Wait()

	snap := f.session.Snapshot()
	assert.Equal(t, workflow.StateIdle, snap.State)
	assert.False(t, snap.CanRun())
	f.analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t)
	want := goodResult()
	f.analyzer.On("Analyze", mock.Anything, mock.MatchedBy(func(req domain.AnalysisRequest) bool {
		return len(req.Images) == 2 &&
			req.Images[0].Name == "a.jpg" &&
			req.Images[1].Name == "b.jpg" &&
			req.Comments == "north wall"
	})).Return(want, nil).Once()

	require.NoError(t, f.session.AddImages(img("a.jpg"), img("b.jpg")))
	require.NoError(t, f.session.SetComments("north wall"))
	assert.True(t, f.session.Snapshot().CanRun())

	require.True(t, f.session.Run())
	f.session.Wait()

	snap := f.session.Snapshot()
	assert.Equal(t, workflow.StateSucceeded, snap.State)
	assert.Empty(t, snap.Error)
	require.NotNil(t, snap.Result)
	assert.Equal(t, *want, *snap.Result)

	got, ok := f.session.Result()
	assert.True(t, ok)
	assert.Equal(t, *want, got)

	// staged images and comments survive the run
	assert.Len(t, snap.Images, 2)
	assert.Equal(t, "north wall", snap.Comments)
	f.analyzer.AssertExpectations(t)
}

func TestRunFailureShowsGenericMessage(t *testing.T) {
	f := newFixture(t)
	cause := domain.Fail(domain.KindTransport, errors.New("401 unauthorized"))
	f.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(nil, cause).Once()

	require.NoError(t, f.session.AddImages(img("a.jpg")))
	require.True(t, f.session.Run())
	f.session.Wait()

	snap := f.session.Snapshot()
	assert.Equal(t, workflow.StateFailed, snap.State)
	assert.Equal(t, FailureMessage, snap.Error)
	assert.Nil(t, snap.Result)
	assert.Len(t, snap.Images, 1)
	assert.ErrorIs(t, <-f.finished, domain.ErrAnalysisFailed)
}

func TestNilResultCountsAsFailure(t *testing.T) {
	f := newFixture(t)
	f.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(nil, nil).Once()

	require.NoError(t, f.session.AddImages(img("a.jpg")))
	require.True(t, f.session.Run())
	f.session.Wait()

	assert.Equal(t, workflow.StateFailed, f.session.Snapshot().State)
	assert.ErrorIs(t, <-f.finished, domain.ErrEmptyResponse)
}

func TestEditsRefusedWhileAnalyzing(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.analyzer.On("Analyze", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(goodResult(), nil).Once()

	require.NoError(t, f.session.AddImages(img("a.jpg")))
	require.True(t, f.session.Run())

	snap := f.session.Snapshot()
	assert.True(t, snap.Analyzing())
	assert.False(t, snap.CanRun())

	assert.False(t, f.session.Run())
	assert.ErrorIs(t, f.session.AddImages(img("b.jpg")), ErrBusy)
	assert.ErrorIs(t, f.session.RemoveImage(0), ErrBusy)
	assert.ErrorIs(t, f.session.SetComments("x"), ErrBusy)

	close(release)
	f.session.Wait()

	assert.Equal(t, workflow.StateSucceeded, f.session.Snapshot().State)
	f.analyzer.AssertNumberOfCalls(t, "Analyze", 1)
}

func TestRerunClearsPreviousResult(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(goodResult(), nil).Once()
	f.analyzer.On("Analyze", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(nil, domain.Fail(domain.KindEmptyResponse, domain.ErrEmptyResponse)).Once()

	require.NoError(t, f.session.AddImages(img("a.jpg")))
	require.True(t, f.session.Run())
	f.session.Wait()
	require.NotNil(t, f.session.Snapshot().Result)

	require.True(t, f.session.Run())
	snap := f.session.Snapshot()
	assert.Equal(t, workflow.StateAnalyzing, snap.State)
	assert.Nil(t, snap.Result)
	assert.Empty(t, snap.Error)

	close(release)
	f.session.Wait()
	snap = f.session.Snapshot()
	assert.Equal(t, workflow.StateFailed, snap.State)
	assert.Nil(t, snap.Result)
}

func TestResetDuringAnalysisDiscardsOutcome(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.analyzer.On("Analyze", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(goodResult(), nil).Once()

	require.NoError(t, f.session.AddImages(img("a.jpg"), img("b.jpg")))
	require.NoError(t, f.session.SetComments("roof"))
	require.True(t, f.session.Run())

	f.session.Reset()
	snap := f.session.Snapshot()
	assert.Equal(t, workflow.StateIdle, snap.State)
	assert.Empty(t, snap.Images)
	assert.Empty(t, snap.Comments)
	assert.Zero(t, f.previews.Len())

	close(release)
	f.session.Wait()

	snap = f.session.Snapshot()
	assert.Equal(t, workflow.StateIdle, snap.State)
	assert.Nil(t, snap.Result)
	assert.Empty(t, snap.Error)
}

func TestRunRefusedUntilResetCallReturns(t *testing.T) {
	f := newFixture(t)
	releaseOld := make(chan struct{})
	newResult := goodResult()
	newResult.KTS = "V"

	f.analyzer.On("Analyze", mock.Anything, firstImage("old.jpg")).
		Run(func(mock.Arguments) { <-releaseOld }).
		Return(goodResult(), nil).Once()
	f.analyzer.On("Analyze", mock.Anything, firstImage("new.jpg")).
		Return(newResult, nil).Once()

	require.NoError(t, f.session.AddImages(img("old.jpg")))
	require.True(t, f.session.Run())
	f.session.Reset()

	require.NoError(t, f.session.AddImages(img("new.jpg")))
	snap := f.session.Snapshot()
	assert.Equal(t, workflow.StateIdle, snap.State)
	assert.True(t, snap.InFlight)
	assert.False(t, snap.CanRun())
	assert.True(t, f.session.Busy())
	assert.False(t, f.session.Run())

	close(releaseOld)
	f.session.Wait()
	f.analyzer.AssertNumberOfCalls(t, "Analyze", 1)
	snap = f.session.Snapshot()
	assert.Equal(t, workflow.StateIdle, snap.State)
	assert.Nil(t, snap.Result)
	assert.False(t, snap.InFlight)
	assert.True(t, snap.CanRun())

	require.True(t, f.session.Run())
	f.session.Wait()
	snap = f.session.Snapshot()
	assert.Equal(t, workflow.StateSucceeded, snap.State)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "V", snap.Result.KTS)
	f.analyzer.AssertExpectations(t)
}

func TestRemoveImageReleasesPreview(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.AddImages(img("a.jpg"), img("b.jpg"), img("c.jpg")))
	assert.Equal(t, 3, f.previews.Len())

	snap := f.session.Snapshot()
	removed := snap.Images[1].Preview
	assert.True(t, f.session.OwnsPreview(removed))

	require.NoError(t, f.session.RemoveImage(1))
	assert.False(t, f.session.OwnsPreview(removed))
	assert.Equal(t, 2, f.previews.Len())

	snap = f.session.Snapshot()
	require.Len(t, snap.Images, 2)
	assert.Equal(t, "a.jpg", snap.Images[0].Name)
	assert.Equal(t, "c.jpg", snap.Images[1].Name)
	assert.Equal(t, 1, snap.Images[1].Index)

	assert.ErrorIs(t, f.session.RemoveImage(5), intake.ErrIndexOutOfRange)
}

func TestSnapshotIsACopy(t *testing.T) {
	f := newFixture(t)
	f.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(goodResult(), nil).Once()
	require.NoError(t, f.session.AddImages(img("a.jpg")))
	require.True(t, f.session.Run())
	f.session.Wait()

	snap := f.session.Snapshot()
	snap.Result.Defect = "changed"
	snap.Images[0].Name = "changed"

	again := f.session.Snapshot()
	assert.Equal(t, "Трещина", again.Result.Defect)
	assert.Equal(t, "a.jpg", again.Images[0].Name)
}
