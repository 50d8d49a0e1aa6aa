package oidc

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/browser"
)

// Location is the navigable location of the host application.
type Location interface {
	// Href returns the current URL, including any query and fragment.
	Href() string

	// Assign navigates to u.
	Assign(ctx context.Context, u string) error

	// ClearRedirectParams removes the query and fragment of the current URL
	// once a redirect response was consumed.
	ClearRedirectParams() error
}

// ParseRedirectParams returns the parameters of a redirect response. The
// fragment of rawURL is used when present, otherwise its query. A non-empty
// customFragment replaces the fragment of rawURL; its leading '#' is
// optional. ok is false when neither carries parameters.
func ParseRedirectParams(rawURL, customFragment string) (params map[string]string, ok bool) {
	rest, fragment, hasFragment := strings.Cut(rawURL, "#")
	if customFragment != "" {
		fragment, hasFragment = strings.TrimPrefix(customFragment, "#"), true
	}
	if hasFragment && fragment != "" {
		return ParseQueryString(fragment), true
	}
	if _, query, hasQuery := strings.Cut(rest, "?"); hasQuery && query != "" {
		return ParseQueryString(query), true
	}
	return map[string]string{}, false
}

// ParseQueryString decodes "k=v&k2=v2" into a map. Keys and values are
// percent-decoded; a '+' is kept as is. A leading '/' is stripped from keys.
// Later duplicates win.
func ParseQueryString(qs string) map[string]string {
	data := map[string]string{}
	for _, pair := range strings.Split(qs, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		k = unescapeComponent(k)
		k = strings.TrimPrefix(k, "/")
		data[k] = unescapeComponent(v)
	}
	return data
}

// unescapeComponent returns s unchanged when it is not valid percent-encoding.
func unescapeComponent(s string) string {
	u, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return u
}

// BrowserLocation is a Location for hosts without a browser of their own,
// such as CLIs: Assign opens the URL in the system browser and Href is set
// by whatever receives the redirect, usually a loopback callback handler.
type BrowserLocation struct {
	mu   sync.Mutex
	href string
	open func(string) error
}

var _ Location = (*BrowserLocation)(nil)

// NewBrowserLocation creates a BrowserLocation starting at href.
func NewBrowserLocation(href string) *BrowserLocation {
	return &BrowserLocation{href: href, open: browser.OpenURL}
}

func (l *BrowserLocation) Href() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.href
}

// SetHref records the URL the provider redirected to.
func (l *BrowserLocation) SetHref(href string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.href = href
}

// Assign opens u in the system browser.
func (l *BrowserLocation) Assign(ctx context.Context, u string) error {
	const op = "BrowserLocation.Assign"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := l.open(u); err != nil {
		return fmt.Errorf("%s: unable to open browser: %w", op, err)
	}
	return nil
}

func (l *BrowserLocation) ClearRedirectParams() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.href, _, _ = strings.Cut(l.href, "#")
	l.href, _, _ = strings.Cut(l.href, "?")
	return nil
}
