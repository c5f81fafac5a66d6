package wiki

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/starford/meetupwiki/internal/announcement"
	"github.com/starford/meetupwiki/internal/apperr"
	"github.com/starford/meetupwiki/internal/ordinal"
)

//go:embed templates/meetup_wiki.md.tmpl
var defaultTemplate string

// DefaultTemplate returns the built-in page template.
func DefaultTemplate() string {
	return defaultTemplate
}

// LoadTemplate reads a template file. An empty path selects the built-in
// template.
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return defaultTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: template %s not found", apperr.ErrTemplateRender, path)
		}
		return "", fmt.Errorf("%w: read template %s: %v", apperr.ErrTemplateRender, path, err)
	}
	return string(data), nil
}

// PageName is the wiki title for meetup n, e.g. "第十五回 Meetup".
func PageName(n int) string {
	return "第" + ordinal.Format(n) + "回 Meetup"
}

// FileName is the file holding PageName(n), e.g. "第十五回-Meetup.md".
func FileName(n int) string {
	return strings.ReplaceAll(PageName(n), " ", "-") + ".md"
}

func parseTemplate(text string) (*template.Template, error) {
	t, err := template.New("page").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTemplateRender, err)
	}
	return t, nil
}

func pageContext(a announcement.Announcement) map[string]any {
	return map[string]any{
		"Number":    a.Number,
		"Date":      a.WikiDate(),
		"Ordinal":   ordinal.Format(a.Number),
		"Name":      PageName(a.Number),
		"SourceURI": a.SourceURI,
	}
}

func renderPage(t *template.Template, a announcement.Announcement) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, pageContext(a)); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTemplateRender, err)
	}
	return buf.Bytes(), nil
}

// Preview renders the page for a without touching the checkout and returns
// both the Markdown and its HTML rendering.
func (p *Publisher) Preview(a announcement.Announcement) (markdown, html []byte, err error) {
	markdown, err = renderPage(p.tmpl, a)
	if err != nil {
		return nil, nil, err
	}
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := md.Convert(markdown, &buf); err != nil {
		return nil, nil, fmt.Errorf("preview: convert markdown: %w", err)
	}
	return markdown, buf.Bytes(), nil
}
