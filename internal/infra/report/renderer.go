package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
)

//go:embed templates/*
var templatesFS embed.FS

// Renderer executes the embedded report template.
type Renderer struct {
	tmpl *template.Template
}

func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"lines": lines,
	}

	tmpl, err := template.New("").Funcs(funcMap).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render writes the report fragment for v.
func (r *Renderer) Render(w io.Writer, v View) error {
	return r.tmpl.ExecuteTemplate(w, "report.html", v)
}

// HTML renders v into a fragment that can be embedded in a page template.
func (r *Renderer) HTML(v View) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.Render(&buf, v); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
