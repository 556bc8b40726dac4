package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
)

//go:embed templates/*.html
var embedded embed.FS

// Renderer executes the HTML page templates. With auto-reload on, the
// templates are parsed again for every render so edits on disk show up
// without a restart.
type Renderer struct {
	fsys       fs.FS
	autoReload bool
	tmpl       *template.Template
}

// NewRenderer loads templates from dir, or from the embedded set when dir
// is empty.
func NewRenderer(dir string, autoReload bool) (*Renderer, error) {
	var fsys fs.FS
	if dir != "" {
		fsys = os.DirFS(dir)
	} else {
		sub, err := fs.Sub(embedded, "templates")
		if err != nil {
			return nil, fmt.Errorf("open embedded templates: %w", err)
		}
		fsys = sub
	}

	tmpl, err := parseTemplates(fsys)
	if err != nil {
		return nil, err
	}
	return &Renderer{fsys: fsys, autoReload: autoReload, tmpl: tmpl}, nil
}

func parseTemplates(fsys fs.FS) (*template.Template, error) {
	tmpl, err := template.ParseFS(fsys, "*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}

// Render executes the named template into a buffer first, so a template
// failure is returned before anything reaches the client.
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, data any) error {
	tmpl := r.tmpl
	if r.autoReload {
		fresh, err := parseTemplates(r.fsys)
		if err != nil {
			return err
		}
		tmpl = fresh
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
