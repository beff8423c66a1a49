package email

import (
	"bytes"
	"embed"
	"html/template"
	texttpl "text/template"

	"github.com/lockhaven/authcore/internal/autherr"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// TemplateVars feed all three transactional templates.
type TemplateVars struct {
	AppName   string
	UserEmail string
	Link      string
	TTL       string
}

type Templates struct {
	html *template.Template
	text *texttpl.Template
}

// LoadTemplates parses the embedded template set once at startup.
func LoadTemplates() (*Templates, error) {
	h, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "parsing html templates", err)
	}
	t, err := texttpl.ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, autherr.Wrap(autherr.KindInternal, "parsing text templates", err)
	}
	return &Templates{html: h, text: t}, nil
}

// Render produces the HTML and plain-text bodies for the named
// template ("reset_password", "verify_email" or "magic_link").
func (t *Templates) Render(name string, vars TemplateVars) (htmlBody, textBody string, err error) {
	var hb, tb bytes.Buffer
	if err := t.html.ExecuteTemplate(&hb, name+".html", vars); err != nil {
		return "", "", autherr.Wrap(autherr.KindInternal, "rendering "+name, err)
	}
	if err := t.text.ExecuteTemplate(&tb, name+".txt", vars); err != nil {
		return "", "", autherr.Wrap(autherr.KindInternal, "rendering "+name, err)
	}
	return hb.String(), tb.String(), nil
}
