package announcement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

const maxDocumentSize = 8 << 20

// Parser fetches announcement documents and reads their title.
type Parser struct {
	client *http.Client
	now    func() time.Time
	logger *slog.Logger
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithHTTPClient sets the client used for http and https sources.
func WithHTTPClient(c *http.Client) ParserOption {
	return func(p *Parser) { p.client = c }
}

// WithClock sets the clock used for the default date.
func WithClock(now func() time.Time) ParserOption {
	return func(p *Parser) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ParserOption {
	return func(p *Parser) { p.logger = l }
}

// NewParser creates a Parser.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse fetches uri and extracts the announcement. It never fails: on any
// error the returned Announcement is defaulted and carries the cause.
func (p *Parser) Parse(ctx context.Context, uri string) Announcement {
	title, err := p.fetchTitle(ctx, uri)
	var a Announcement
	if err != nil {
		a = Defaults(uri, p.now(), err)
	} else {
		a = FromTitle(title, uri, p.now())
	}
	if a.Defaulted() {
		p.logger.Warn("announcement: using defaults",
			slog.String("source", uri),
			slog.Int("number", a.Number),
			slog.String("date", a.WikiDate()),
			slog.String("error", a.Err.Error()))
	}
	return a
}

func (p *Parser) fetchTitle(ctx context.Context, uri string) (string, error) {
	rc, contentType, err := p.open(ctx, uri)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	r, err := charset.NewReader(io.LimitReader(rc, maxDocumentSize), contentType)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", uri, err)
	}
	return Title(r)
}

func (p *Parser) open(ctx context.Context, uri string) (io.ReadCloser, string, error) {
	u, err := url.Parse(uri)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return p.get(ctx, u.String())
		case "file":
			return openFile(u.Path)
		}
	}
	return openFile(uri)
}

func (p *Parser) get(ctx context.Context, uri string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", uri, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("fetch %s: unexpected status %s", uri, resp.Status)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func openFile(path string) (io.ReadCloser, string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	return f, "", nil
}

// Title returns the text of the first <title> element in an HTML document.
func Title(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var find func(*html.Node) *html.Node
	find = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if found := find(c); found != nil {
				return found
			}
		}
		return nil
	}

	node := find(doc)
	if node == nil {
		return "", errors.New("document has no <title>")
	}
	var b strings.Builder
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(b.String()), nil
}
