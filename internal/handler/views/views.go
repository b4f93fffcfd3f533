// Package views renders HTML pages from embedded templates. Every page
// shares the layout template and receives a Page envelope with the
// request-scoped bits (user, base path, CSRF token) plus page data.
package views

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/compasslabs/compass/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"pct": func(f float64) string { return fmt.Sprintf("%.1f%%", f) },
	"f2":  func(f float64) string { return fmt.Sprintf("%.2f", f) },
}

var pages = map[string]*template.Template{}

func init() {
	names := []string{
		"login.html", "dashboard.html", "exam_new.html", "exam_detail.html",
		"join.html", "take.html", "result.html", "admin_users.html",
	}
	for _, name := range names {
		pages[name] = template.Must(
			template.New("layout.html").Funcs(funcs).
				ParseFS(templateFS, "templates/layout.html", "templates/"+name),
		)
	}
}

// Page is the envelope every template receives.
type Page struct {
	Title     string
	BasePath  string
	CSRFToken string
	User      *model.User
	Flash     string // one-shot error or status message
	Data      any
}

// Render executes the named page into w.
func Render(w io.Writer, name string, p Page) error {
	tmpl, ok := pages[name]
	if !ok {
		return fmt.Errorf("unknown page template %q", name)
	}
	if err := tmpl.ExecuteTemplate(w, "layout.html", p); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return nil
}
