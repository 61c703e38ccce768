package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/defect-inspector/internal/application"
	appinspection "github.com/bryanwahyu/defect-inspector/internal/application/inspection"
	domain "github.com/bryanwahyu/defect-inspector/internal/domain/inspection"
	"github.com/bryanwahyu/defect-inspector/internal/domain/intake"
	"github.com/bryanwahyu/defect-inspector/internal/infra/export"
	"github.com/bryanwahyu/defect-inspector/internal/infra/report"
)

type stubAnalyzer struct {
	mu     sync.Mutex
	result *domain.AnalysisResult
	err    error
	calls  []domain.AnalysisRequest
}

func (s *stubAnalyzer) Analyze(_ context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	r := *s.result
	return &r, nil
}

func (s *stubAnalyzer) Calls() []domain.AnalysisRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AnalysisRequest(nil), s.calls...)
}

type blockingAnalyzer struct {
	release chan struct{}
	result  *domain.AnalysisResult
	calls   atomic.Int32
}

func (b *blockingAnalyzer) Analyze(ctx context.Context, _ domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	b.calls.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r := *b.result
	return &r, nil
}

type harness struct {
	t        *testing.T
	server   *httptest.Server
	client   *http.Client
	sessions *appinspection.Manager
}

var fixedNow = time.Date(2026, 10, 17, 14, 30, 0, 0, time.UTC)

func newHarness(t *testing.T, analyzer domain.Analyzer) *harness {
	t.Helper()
	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := log.NewEntry(logger)
	clock := application.ClockFunc(func() time.Time { return fixedNow })

	previews := intake.NewMemoryPreviews()
	sessions := appinspection.NewManager(appinspection.Deps{
		Analyzer: analyzer,
		Previews: previews,
		Clock:    clock,
		Logger:   entry,
	}, time.Hour)
	renderer, err := report.NewRenderer()
	require.NoError(t, err)

	handler, err := NewRouter(Deps{
		Sessions:       sessions,
		Previews:       previews,
		Renderer:       renderer,
		Exporter:       export.NewExporter("", ""),
		Clock:          clock,
		Logger:         entry,
		MaxUploadBytes: 8 << 20,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &harness{
		t:        t,
		server:   srv,
		client:   newClient(t),
		sessions: sessions,
	}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (h *harness) do(c *http.Client, req *http.Request) (*http.Response, string) {
	h.t.Helper()
	resp, err := c.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp, string(body)
}

func (h *harness) get(path string) (*http.Response, string) {
	h.t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.server.URL+path, nil)
	require.NoError(h.t, err)
	return h.do(h.client, req)
}

func (h *harness) postForm(path string, form url.Values) *http.Response {
	h.t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.server.URL+path, strings.NewReader(form.Encode()))
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, _ := h.do(h.client, req)
	return resp
}

type upload struct {
	name string
	data []byte
}

func (h *harness) upload(files ...upload) *http.Response {
	h.t.Helper()
	return h.uploadWith(nil, files...)
}

func (h *harness) uploadWith(fields map[string]string, files ...upload) *http.Response {
	h.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(h.t, mw.WriteField(k, v))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile("images", f.name)
		require.NoError(h.t, err)
		_, err = part.Write(f.data)
		require.NoError(h.t, err)
	}
	require.NoError(h.t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/images", &body)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, _ := h.do(h.client, req)
	return resp
}

func (h *harness) snapshot() appinspection.Snapshot {
	h.t.Helper()
	resp, body := h.get("/api/session")
	require.Equal(h.t, http.StatusOK, resp.StatusCode)
	var snap appinspection.Snapshot
	require.NoError(h.t, json.Unmarshal([]byte(body), &snap))
	return snap
}

func (h *harness) waitForRun() {
	h.t.Helper()
	s, ok := h.sessions.Get(h.snapshot().ID)
	require.True(h.t, ok)
	s.Wait()
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func sampleResult() *domain.AnalysisResult {
	return &domain.AnalysisResult{
		Defect:             "Трещина в кирпичной кладке",
		Code:               "СП 1.04.02-2022, Приложение А, п. A.3",
		Description:        "Наклонная трещина",
		NormativeReference: "СН 1.04.01-2020, п. 12.4.6",
		KTS:                "III\nОграниченно работоспособное",
		Measures:           "Установка маяков",
		Priority:           "Planned",
		RepairMethods:      "Инъектирование",
		Confidence:         72,
		Reasoning:          "Раскрытие до 2 мм",
	}
}

func TestIndexIssuesSessionCookie(t *testing.T) {
	h := newHarness(t, &stubAnalyzer{result: sampleResult()})

	resp, body := h.get("/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Cookies())
	assert.Equal(t, SessionCookie, resp.Cookies()[0].Name)
	assert.True(t, resp.Cookies()[0].HttpOnly)

	assert.Contains(t, body, `id="run" disabled`)
	assert.NotContains(t, body, `id="export"`)
	assert.NotContains(t, body, `http-equiv="refresh"`)
	assert.Equal(t, 1, h.sessions.Len())

	// the cookie is reused on later requests
	h.get("/")
	assert.Equal(t, 1, h.sessions.Len())
}

func TestUploadPreviewAndRemove(t *testing.T) {
	h := newHarness(t, &stubAnalyzer{result: sampleResult()})
	first := pngImage(t, 4, 4)
	second := pngImage(t, 8, 2)

	resp := h.upload(
		upload{"a.png", first},
		upload{"notes.txt", []byte("not an image at all")},
		upload{"b.png", second},
	)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/?notice=not-an-image", resp.Header.Get("Location"))

	snap := h.snapshot()
	require.Len(t, snap.Images, 2)
	assert.Equal(t, "a.png", snap.Images[0].Name)
	assert.Equal(t, "b.png", snap.Images[1].Name)
	assert.Equal(t, 8, snap.Images[1].Width)

	resp, body := h.get("/previews/" + snap.Images[0].Preview)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, string(first), body)

	_, page := h.get("/?notice=not-an-image")
	assert.Contains(t, page, `id="notice"`)
	assert.NotContains(t, page, `id="run" disabled`)

	resp = h.postForm("/images/0/delete", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp, _ = h.get("/previews/" + snap.Images[0].Preview)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	after := h.snapshot()
	require.Len(t, after.Images, 1)
	assert.Equal(t, "b.png", after.Images[0].Name)

	resp = h.postForm("/images/7/delete", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = h.postForm("/images/x/delete", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPreviewsArePrivateToSession(t *testing.T) {
	h := newHarness(t, &stubAnalyzer{result: sampleResult()})
	h.upload(upload{"a.png", pngImage(t, 2, 2)})
	handle := h.snapshot().Images[0].Preview

	req, err := http.NewRequest(http.MethodGet, h.server.URL+"/previews/"+handle, nil)
	require.NoError(t, err)
	resp, _ := h.do(newClient(t), req)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAnalyzeSuccessShowsReportAndExport(t *testing.T) {
	analyzer := &stubAnalyzer{result: sampleResult()}
	h := newHarness(t, analyzer)

	h.upload(upload{"a.png", pngImage(t, 2, 2)}, upload{"b.png", pngImage(t, 3, 3)})
	resp := h.postForm("/analyze", url.Values{"comments": {"north wall crack"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	h.waitForRun()

	calls := analyzer.Calls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0].Images, 2)
	assert.Equal(t, "north wall crack", calls[0].Comments)

	_, page := h.get("/")
	assert.Contains(t, page, `class="kts kts-iii"`)
	assert.Contains(t, page, "72%")
	assert.Contains(t, page, `id="export"`)
	assert.Contains(t, page, "north wall crack")

	resp, body := h.get("/report.pdf")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "defect_report_2026-10-17.pdf")
	assert.True(t, strings.HasPrefix(body, "%PDF"))
}

func TestAnalyzeFailureShowsGenericError(t *testing.T) {
	analyzer := &stubAnalyzer{err: domain.Fail(domain.KindTransport, errors.New("connection refused"))}
	h := newHarness(t, analyzer)

	h.upload(upload{"a.png", pngImage(t, 2, 2)})
	h.postForm("/analyze", url.Values{"comments": {"roof"}})
	h.waitForRun()

	_, page := h.get("/")
	assert.Contains(t, page, appinspection.FailureMessage)
	assert.NotContains(t, page, "connection refused")
	assert.NotContains(t, page, `id="export"`)

	snap := h.snapshot()
	assert.Len(t, snap.Images, 1)
	assert.Equal(t, "roof", snap.Comments)

	resp, _ := h.get("/report.pdf")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/?notice=export-failed", resp.Header.Get("Location"))
}

func TestAnalyzeWithoutImagesIsNoop(t *testing.T) {
	analyzer := &stubAnalyzer{result: sampleResult()}
	h := newHarness(t, analyzer)

	resp := h.postForm("/analyze", url.Values{"comments": {"nothing staged"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	snap := h.snapshot()
	assert.Equal(t, "idle", snap.State)
	assert.Equal(t, "nothing staged", snap.Comments)
	assert.Empty(t, analyzer.Calls())
}

func TestResetClearsEverything(t *testing.T) {
	h := newHarness(t, &stubAnalyzer{result: sampleResult()})
	h.upload(upload{"a.png", pngImage(t, 2, 2)})
	h.postForm("/analyze", url.Values{"comments": {"wall"}})
	h.waitForRun()
	handle := h.snapshot().Images[0].Preview

	resp := h.postForm("/reset", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	snap := h.snapshot()
	assert.Equal(t, "idle", snap.State)
	assert.Empty(t, snap.Images)
	assert.Empty(t, snap.Comments)
	assert.Nil(t, snap.Result)

	resp, _ = h.get("/previews/" + handle)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCommentsAreStored(t *testing.T) {
	h := newHarness(t, &stubAnalyzer{result: sampleResult()})
	h.postForm("/comments", url.Values{"comments": {"  basement\r\ncolumn  "}})
	assert.Equal(t, "basement\ncolumn", h.snapshot().Comments)
}

func TestUploadKeepsTypedComments(t *testing.T) {
	h := newHarness(t, &stubAnalyzer{result: sampleResult()})

	resp := h.uploadWith(map[string]string{"comments": "facade, 3rd floor"}, upload{"a.png", pngImage(t, 2, 2)})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	snap := h.snapshot()
	assert.Len(t, snap.Images, 1)
	assert.Equal(t, "facade, 3rd floor", snap.Comments)

	_, page := h.get("/")
	assert.Contains(t, page, `form="inspect-form"`)
	assert.Contains(t, page, "facade, 3rd floor")

	// an upload without the field leaves comments alone
	h.upload(upload{"b.png", pngImage(t, 2, 2)})
	assert.Equal(t, "facade, 3rd floor", h.snapshot().Comments)
}

func TestRunDisabledWhileResetCallInFlight(t *testing.T) {
	release := make(chan struct{})
	analyzer := &blockingAnalyzer{release: release, result: sampleResult()}
	h := newHarness(t, analyzer)

	h.upload(upload{"a.png", pngImage(t, 2, 2)})
	h.postForm("/analyze", nil)
	h.postForm("/reset", nil)
	h.upload(upload{"b.png", pngImage(t, 2, 2)})

	snap := h.snapshot()
	assert.Equal(t, "idle", snap.State)
	assert.True(t, snap.InFlight)

	_, page := h.get("/")
	assert.Contains(t, page, `id="run" disabled`)
	assert.Contains(t, page, `http-equiv="refresh"`)

	resp := h.postForm("/analyze", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	close(release)
	h.waitForRun()
	assert.Equal(t, int32(1), analyzer.calls.Load())
	snap = h.snapshot()
	assert.False(t, snap.InFlight)
	assert.Nil(t, snap.Result)
	require.Len(t, snap.Images, 1)
	assert.Equal(t, "b.png", snap.Images[0].Name)
}

func TestOpsEndpointsSkipSessions(t *testing.T) {
	h := newHarness(t, &stubAnalyzer{result: sampleResult()})

	for _, path := range []string{"/health", "/ready", "/live", "/metrics"} {
		resp, _ := h.get(path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Empty(t, resp.Cookies(), path)
	}
	assert.Zero(t, h.sessions.Len())
}
