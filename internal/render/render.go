// Package render turns named HTML templates into complete responses.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"

	"github.com/Masterminds/sprig/v3"
)

// Page names.
const (
	PageIndex    = "index.html"
	PageMessages = "messages.html"
	PageNotFound = "404.html"
	PageError    = "500.html"
)

//go:embed templates/*.html
var defaultTemplates embed.FS

// Renderer executes parsed templates.
type Renderer struct {
	tmpl *template.Template
}

// New parses every *.html file in dir, or the built-in templates when dir is
// empty. A parse failure here is meant to stop the process before it serves.
func New(dir string) (*Renderer, error) {
	base := template.New("").Funcs(sprig.FuncMap())

	var (
		tmpl *template.Template
		err  error
	)
	if dir == "" {
		tmpl, err = base.ParseFS(defaultTemplates, "templates/*.html")
	} else {
		tmpl, err = base.ParseGlob(filepath.Join(dir, "*.html"))
	}
	if err != nil {
		return nil, fmt.Errorf("render: parse templates: %w", err)
	}

	for _, page := range []string{PageIndex, PageMessages, PageNotFound, PageError} {
		if tmpl.Lookup(page) == nil {
			return nil, fmt.Errorf("render: missing template %q", page)
		}
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render executes the named template and writes it with status. Nothing is
// written when execution fails, so the caller can still send an error response.
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, data any) error {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
