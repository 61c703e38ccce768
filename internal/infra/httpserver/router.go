package httpserver

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"github.com/bryanwahyu/defect-inspector/internal/application"
	appinspection "github.com/bryanwahyu/defect-inspector/internal/application/inspection"
	domain "github.com/bryanwahyu/defect-inspector/internal/domain/inspection"
	"github.com/bryanwahyu/defect-inspector/internal/domain/intake"
	"github.com/bryanwahyu/defect-inspector/internal/infra/export"
	"github.com/bryanwahyu/defect-inspector/internal/infra/report"
	"github.com/bryanwahyu/defect-inspector/internal/middleware"
)

const (
	SessionCookie = "inspector_session"

	// multipart parts above this stay on disk until read
	multipartMemory = 32 << 20
)

// Notices shown as a dialog on the page, keyed by the ?notice= query value.
var notices = map[string]string{
	"export-failed": "Failed to export the report as PDF. Please try again.",
	"not-an-image":  "Some files were skipped because they are not images.",
	"busy":          "An analysis is in progress. Please wait for it to finish.",
	"too-large":     "The upload is too large.",
}

//go:embed templates/*
var templatesFS embed.FS

type Deps struct {
	Sessions       *appinspection.Manager
	Previews       *intake.MemoryPreviews
	Renderer       *report.Renderer
	Exporter       *export.Exporter
	Metrics        *middleware.Metrics
	Checkers       map[string]middleware.HealthChecker
	Ready          func() error
	Clock          application.Clock
	Logger         *log.Entry
	MaxUploadBytes int64
	AllowedOrigins []string
}

type Router struct {
	deps Deps
	page *template.Template
	log  *log.Entry
}

func NewRouter(deps Deps) (http.Handler, error) {
	if deps.Clock == nil {
		deps.Clock = application.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = log.NewEntry(log.StandardLogger())
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 64 << 20
	}
	if deps.Metrics == nil {
		deps.Metrics = middleware.NewMetrics(deps.Sessions.Len)
	}
	page, err := template.ParseFS(templatesFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}

	r := &Router{deps: deps, page: page, log: deps.Logger.WithField("component", "http")}
	mux := chi.NewRouter()

	mux.Use(chimw.RequestID)
	mux.Use(chimw.RealIP)
	mux.Use(middleware.Logging(r.log))
	mux.Use(chimw.Recoverer)
	mux.Use(deps.Metrics.Middleware)
	if len(deps.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	mux.Get("/health", middleware.HealthHandler(deps.Checkers))
	mux.Get("/ready", middleware.ReadinessHandler(deps.Ready))
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", deps.Metrics.Handler)

	mux.Group(func(rt chi.Router) {
		rt.Use(r.withSession)

		rt.Get("/", r.wrap(r.handleIndex))
		rt.Post("/images", r.wrap(r.handleAddImages))
		rt.Post("/images/{index}/delete", r.wrap(r.handleRemoveImage))
		rt.Get("/previews/{handle}", r.wrap(r.handlePreview))
		rt.Post("/comments", r.wrap(r.handleComments))
		rt.Post("/analyze", r.wrap(r.handleAnalyze))
		rt.Post("/reset", r.wrap(r.handleReset))
		rt.Get("/report.pdf", r.wrap(r.handleExport))
		rt.Get("/api/session", r.wrap(r.handleSessionJSON))
	})

	return mux, nil
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}

		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, appinspection.ErrBusy):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, intake.ErrIndexOutOfRange), errors.Is(err, middleware.ErrInvalidIndex):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, errNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.As(err, &tooLarge):
			http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
		default:
			r.log.WithError(err).WithField("path", req.URL.Path).Error("handler failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

var errNotFound = errors.New("not found")

type sessionKey struct{}

// withSession attaches the caller's session, issuing a cookie for new visitors.
func (r *Router) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var id string
		if c, err := req.Cookie(SessionCookie); err == nil {
			id = c.Value
		}
		s, created, err := r.deps.Sessions.GetOrCreate(id)
		if err != nil {
			r.log.WithError(err).Error("session create failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if created {
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    s.ID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), sessionKey{}, s)))
	})
}

func sessionFrom(req *http.Request) *appinspection.Session {
	return req.Context().Value(sessionKey{}).(*appinspection.Session)
}

func seeOther(w http.ResponseWriter, req *http.Request, notice string) error {
	target := "/"
	if notice != "" {
		target += "?notice=" + notice
	}
	http.Redirect(w, req, target, http.StatusSeeOther)
	return nil
}

type pageData struct {
	Session appinspection.Snapshot
	Report  template.HTML
	Notice  string
}

// GET /
func (r *Router) handleIndex(w http.ResponseWriter, req *http.Request) error {
	snap := sessionFrom(req).Snapshot()
	data := pageData{
		Session: snap,
		Notice:  notices[req.URL.Query().Get("notice")],
	}
	if snap.Result != nil {
		html, err := r.deps.Renderer.HTML(report.Build(*snap.Result))
		if err != nil {
			return err
		}
		data.Report = html
	}

	var buf bytes.Buffer
	if err := r.page.Execute(&buf, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, err := buf.WriteTo(w)
	return err
}

// POST /images (multipart, field "images", multiple; optional "comments" is saved too)
func (r *Router) handleAddImages(w http.ResponseWriter, req *http.Request) error {
	req.Body = http.MaxBytesReader(w, req.Body, r.deps.MaxUploadBytes)
	if err := req.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return seeOther(w, req, "too-large")
		}
		return seeOther(w, req, "")
	}
	defer req.MultipartForm.RemoveAll()

	var (
		images  []domain.Image
		skipped int
	)
	for _, fh := range req.MultipartForm.File["images"] {
		f, err := fh.Open()
		if err != nil {
			return err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return err
		}

		img, err := middleware.ValidateImage(fh.Filename, data)
		if err != nil {
			r.log.WithError(err).Debug("upload skipped")
			skipped++
			continue
		}
		images = append(images, img)
	}

	s := sessionFrom(req)
	if values, ok := req.MultipartForm.Value["comments"]; ok && len(values) > 0 {
		if err := s.SetComments(middleware.SanitizeString(values[0])); err != nil {
			if errors.Is(err, appinspection.ErrBusy) {
				return seeOther(w, req, "busy")
			}
			return err
		}
	}
	if err := s.AddImages(images...); err != nil {
		if errors.Is(err, appinspection.ErrBusy) {
			return seeOther(w, req, "busy")
		}
		return err
	}
	if skipped > 0 {
		return seeOther(w, req, "not-an-image")
	}
	return seeOther(w, req, "")
}

// POST /images/{index}/delete
func (r *Router) handleRemoveImage(w http.ResponseWriter, req *http.Request) error {
	k, err := middleware.ParseIndex(chi.URLParam(req, "index"))
	if err != nil {
		return err
	}
	if err := sessionFrom(req).RemoveImage(k); err != nil {
		return err
	}
	return seeOther(w, req, "")
}

// GET /previews/{handle}
func (r *Router) handlePreview(w http.ResponseWriter, req *http.Request) error {
	handle := chi.URLParam(req, "handle")
	if !sessionFrom(req).OwnsPreview(handle) {
		return errNotFound
	}
	p, ok := r.deps.Previews.Get(handle)
	if !ok {
		return errNotFound
	}
	w.Header().Set("Content-Type", p.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(p.Data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, err := w.Write(p.Data)
	return err
}

// POST /comments
func (r *Router) handleComments(w http.ResponseWriter, req *http.Request) error {
	if err := req.ParseForm(); err != nil {
		return err
	}
	if err := sessionFrom(req).SetComments(middleware.SanitizeString(req.PostForm.Get("comments"))); err != nil {
		return err
	}
	return seeOther(w, req, "")
}

// POST /analyze (optional "comments" field is saved first)
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	if err := req.ParseForm(); err != nil {
		return err
	}
	s := sessionFrom(req)
	if _, ok := req.PostForm["comments"]; ok {
		err := s.SetComments(middleware.SanitizeString(req.PostForm.Get("comments")))
		if err != nil && !errors.Is(err, appinspection.ErrBusy) {
			return err
		}
	}
	if !s.Run() {
		r.log.WithField("session", s.ID).Debug("run ignored")
	}
	return seeOther(w, req, "")
}

// POST /reset
func (r *Router) handleReset(w http.ResponseWriter, req *http.Request) error {
	sessionFrom(req).Reset()
	return seeOther(w, req, "")
}

// GET /report.pdf
func (r *Router) handleExport(w http.ResponseWriter, req *http.Request) error {
	s := sessionFrom(req)
	result, ok := s.Result()
	if !ok {
		r.log.WithError(export.ErrNoReport).WithField("session", s.ID).Warn("export failed")
		return seeOther(w, req, "export-failed")
	}

	now := r.deps.Clock.Now()
	var buf bytes.Buffer
	if err := r.deps.Exporter.Export(&buf, report.Build(result), now); err != nil {
		r.log.WithError(err).WithField("session", s.ID).Error("export failed")
		return seeOther(w, req, "export-failed")
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.FileName(now)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, err := buf.WriteTo(w)
	return err
}

// GET /api/session
func (r *Router) handleSessionJSON(w http.ResponseWriter, req *http.Request) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	return json.NewEncoder(w).Encode(sessionFrom(req).Snapshot())
}
