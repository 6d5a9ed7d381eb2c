package apiclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// CSRFCookieName is the cookie Django issues the CSRF token in.
const CSRFCookieName = "csrftoken"

// CSRFSource yields the value of the X-CSRFToken header, or "".
type CSRFSource interface {
	Token(ctx context.Context) string
}

// CSRFFunc adapts a function to CSRFSource.
type CSRFFunc func(ctx context.Context) string

func (f CSRFFunc) Token(ctx context.Context) string {
	return f(ctx)
}

// Static always returns the same token.
type Static string

func (s Static) Token(context.Context) string {
	return string(s)
}

// Chain returns the first non-empty token of its sources, in order.
type Chain []CSRFSource

func (c Chain) Token(ctx context.Context) string {
	for _, src := range c {
		if src == nil {
			continue
		}
		if t := src.Token(ctx); t != "" {
			return t
		}
	}
	return ""
}

// Cookie reads the csrftoken cookie the server set for baseURL.
type Cookie struct {
	Jar     http.CookieJar
	BaseURL string
}

func (c Cookie) Token(context.Context) string {
	if c.Jar == nil {
		return ""
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return ""
	}
	for _, ck := range c.Jar.Cookies(u) {
		if ck.Name == CSRFCookieName {
			return ck.Value
		}
	}
	return ""
}

// PrimedCookie is a Cookie source for a fresh jar: when the jar holds no
// csrftoken it issues one GET of Path so the server can set it, then
// reads the jar again. The GET is attempted once per PrimedCookie.
type PrimedCookie struct {
	Cookie
	Client *http.Client
	Path   string

	once sync.Once
}

// NewPrimedCookie reads the cookie from hc's jar. hc must have a jar.
func NewPrimedCookie(hc *http.Client, baseURL, path string) *PrimedCookie {
	return &PrimedCookie{
		Cookie: Cookie{Jar: hc.Jar, BaseURL: baseURL},
		Client: hc,
		Path:   path,
	}
}

func (p *PrimedCookie) Token(ctx context.Context) string {
	if t := p.Cookie.Token(ctx); t != "" {
		return t
	}
	p.once.Do(func() { p.prime(ctx) })
	return p.Cookie.Token(ctx)
}

func (p *PrimedCookie) prime(ctx context.Context) {
	if p.Client == nil || p.Jar == nil {
		return
	}
	target := strings.TrimRight(p.BaseURL, "/") + "/" + strings.TrimLeft(p.Path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// Document holds the HTML page tokens are scraped from. The page is
// fetched once and the result kept.
type Document struct {
	fetch func(ctx context.Context) (io.ReadCloser, error)

	once sync.Once
	root *html.Node
}

// NewDocument parses r immediately.
func NewDocument(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	d := &Document{root: root}
	d.once.Do(func() {})
	return d, nil
}

// FetchDocument loads pageURL with hc on first use. Failures leave the
// document empty.
func FetchDocument(hc *http.Client, pageURL string) *Document {
	return &Document{
		fetch: func(ctx context.Context) (io.ReadCloser, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Accept", "text/html")
			resp, err := hc.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode/100 != 2 {
				resp.Body.Close()
				return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
			return resp.Body, nil
		},
	}
}

func (d *Document) node(ctx context.Context) *html.Node {
	d.once.Do(func() {
		if d.fetch == nil {
			return
		}
		body, err := d.fetch(ctx)
		if err != nil {
			return
		}
		defer body.Close()
		if root, err := html.Parse(body); err == nil {
			d.root = root
		}
	})
	return d.root
}

// MetaTag reads <meta name="csrf-token" content="...">.
type MetaTag struct {
	Doc *Document
}

func (m MetaTag) Token(ctx context.Context) string {
	if m.Doc == nil {
		return ""
	}
	return findAttr(m.Doc.node(ctx), "meta", "name", "csrf-token", "content")
}

// HiddenField reads <input name="csrfmiddlewaretoken" value="...">.
type HiddenField struct {
	Doc *Document
}

func (h HiddenField) Token(ctx context.Context) string {
	if h.Doc == nil {
		return ""
	}
	return findAttr(h.Doc.node(ctx), "input", "name", "csrfmiddlewaretoken", "value")
}

// findAttr returns attribute want of the first tag element whose key
// attribute equals val.
func findAttr(n *html.Node, tag, key, val, want string) string {
	if n == nil {
		return ""
	}
	if n.Type == html.ElementNode && n.Data == tag {
		var matched bool
		var result string
		for _, a := range n.Attr {
			switch {
			case strings.EqualFold(a.Key, key) && a.Val == val:
				matched = true
			case strings.EqualFold(a.Key, want):
				result = a.Val
			}
		}
		if matched {
			return result
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if v := findAttr(c, tag, key, val, want); v != "" {
			return v
		}
	}
	return ""
}

// DefaultCSRF builds the usual lookup order: meta tag, hidden form field,
// then the csrftoken cookie. doc may be nil.
func DefaultCSRF(doc *Document, jar http.CookieJar, baseURL string) CSRFSource {
	var chain Chain
	if doc != nil {
		chain = append(chain, MetaTag{Doc: doc}, HiddenField{Doc: doc})
	}
	if jar != nil {
		chain = append(chain, Cookie{Jar: jar, BaseURL: baseURL})
	}
	return chain
}
