package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/browser"
)

// Screen is the size of the screen popups are centered on.
type Screen struct {
	Width  int
	Height int
}

// PopupFeatures is the geometry of a popup window.
type PopupFeatures struct {
	Width  int
	Height int
	Left   int
	Top    int
}

// String returns the features in window.open form.
func (f PopupFeatures) String() string {
	return fmt.Sprintf("location=no,toolbar=no,width=%d,height=%d,top=%d,left=%d", f.Width, f.Height, f.Top, f.Left)
}

// CalculatePopupFeatures centers a popup of the given size on screen. A
// non-positive width or height falls back to DefaultPopupWidth and
// DefaultPopupHeight.
func CalculatePopupFeatures(width, height int, screen Screen) PopupFeatures {
	if width <= 0 {
		width = DefaultPopupWidth
	}
	if height <= 0 {
		height = DefaultPopupHeight
	}
	return PopupFeatures{
		Width:  width,
		Height: height,
		Left:   screen.Width/2 - width/2,
		Top:    screen.Height/2 - height/2,
	}
}

// Window is an opened popup.
type Window interface {
	Close() error
}

// WindowOpener opens popups.
type WindowOpener interface {
	Open(ctx context.Context, url string, features PopupFeatures) (Window, error)
}

// BrowserOpener opens the URL in the system browser. The browser owns the
// resulting window, so closing it is a no-op.
type BrowserOpener struct{}

var _ WindowOpener = BrowserOpener{}

func (BrowserOpener) Open(ctx context.Context, url string, _ PopupFeatures) (Window, error) {
	const op = "BrowserOpener.Open"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := browser.OpenURL(url); err != nil {
		return nil, fmt.Errorf("%s: unable to open browser: %w", op, err)
	}
	return browserWindow{}, nil
}

type browserWindow struct{}

func (browserWindow) Close() error { return nil }

// Message is a cross-window message carrying a token response.
type Message struct {
	Origin string
	Data   *TokenResponse
}

// MessagePoster forwards a token response from a popup to the window that
// opened it.
type MessagePoster interface {
	PostMessage(ctx context.Context, origin string, tr *TokenResponse) error
}

// popupListener accepts the first valid message for origin.
type popupListener struct {
	origin string
	ch     chan *TokenResponse
	once   sync.Once
}

func newPopupListener(origin string) *popupListener {
	return &popupListener{origin: origin, ch: make(chan *TokenResponse, 1)}
}

func (l *popupListener) offer(msg Message) bool {
	if msg.Origin != l.origin || msg.Data == nil {
		return false
	}
	delivered := false
	l.once.Do(func() {
		l.ch <- msg.Data
		delivered = true
	})
	return delivered
}

// PostMessage delivers a popup message to the session. It is ignored, and
// false is returned, unless a popup flow is waiting, the message comes from
// Config.Origin and carries a token response. Only the first accepted message
// of a popup flow is delivered.
func (s *Session) PostMessage(msg Message) bool {
	s.mu.RLock()
	l := s.popup
	s.mu.RUnlock()
	if l == nil || !l.offer(msg) {
		s.logger.Debug("ignoring popup message", "origin", msg.Origin)
		return false
	}
	s.mu.Lock()
	if s.popup == l {
		s.popup = nil
	}
	s.mu.Unlock()
	return true
}

// runPopup opens the authorization URL in a popup and waits for the token
// response posted back by it.
func (s *Session) runPopup(ctx context.Context, authURL string) (*TokenResponse, error) {
	const op = "Session.runPopup"
	cfg := s.config()
	features := CalculatePopupFeatures(cfg.PopupWidth, cfg.PopupHeight, s.screen)

	l := newPopupListener(cfg.Origin)
	s.mu.Lock()
	s.popup = l
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.popup == l {
			s.popup = nil
		}
		s.mu.Unlock()
	}()

	win, err := s.opener.Open(ctx, authURL, features)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err := win.Close(); err != nil {
			s.logger.Warn("unable to close popup", "error", err)
		}
	}()

	var timeout <-chan time.Time
	if cfg.PopupTimeout > 0 {
		t := s.clock.NewTimer(cfg.PopupTimeout)
		defer t.Stop()
		timeout = t.C()
	}

	select {
	case tr := <-l.ch:
		if err := s.receiveTokenResponse(ctx, tr, false); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.tokenReceived(ctx, nil)
		return tr, nil
	case <-timeout:
		err := fmt.Errorf("%s: no message after %s: %w", op, cfg.PopupTimeout, ErrPopupTimeout)
		s.events.Publish(ErrorEvent{Type: EventPopupTimeout, Reason: err})
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// HTTPMessagePoster posts token responses as JSON to an endpoint served by
// the opening application, usually callback.Message.
type HTTPMessagePoster struct {
	endpoint   string
	client     *http.Client
	logger     hclog.Logger
	maxRetries uint
	newBackOff func() backoff.BackOff
}

var _ MessagePoster = (*HTTPMessagePoster)(nil)

// DefaultMaxRetries is the number of retries of an HTTPMessagePoster.
const DefaultMaxRetries = 3

// posterOptions is the set of available options for HTTPMessagePoster
// functions
type posterOptions struct {
	withLogger     hclog.Logger
	withHTTPClient *http.Client
	withMaxRetries uint
}

func posterDefaults() posterOptions {
	return posterOptions{
		withLogger:     hclog.NewNullLogger(),
		withMaxRetries: DefaultMaxRetries,
	}
}

func getPosterOpts(opt ...Option) posterOptions {
	opts := posterDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// NewHTTPMessagePoster creates a poster for endpoint.
//
// Supported options: WithLogger, WithHTTPClient, WithMaxRetries
func NewHTTPMessagePoster(endpoint string, opt ...Option) (*HTTPMessagePoster, error) {
	const op = "NewHTTPMessagePoster"
	if endpoint == "" {
		return nil, fmt.Errorf("%s: endpoint is empty: %w", op, ErrInvalidParameter)
	}
	if err := validateURL(endpoint); err != nil {
		return nil, fmt.Errorf("%s: endpoint: %w", op, err)
	}
	opts := getPosterOpts(opt...)
	client := opts.withHTTPClient
	if client == nil {
		var err error
		if client, err = (&Config{}).HttpClient(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return &HTTPMessagePoster{
		endpoint:   endpoint,
		client:     client,
		logger:     opts.withLogger,
		maxRetries: opts.withMaxRetries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}, nil
}

// PostMessage posts tr with an Origin header of origin. Transport errors and
// 5xx or 429 responses are retried.
func (p *HTTPMessagePoster) PostMessage(ctx context.Context, origin string, tr *TokenResponse) error {
	const op = "HTTPMessagePoster.PostMessage"
	if tr == nil {
		return fmt.Errorf("%s: token response is nil: %w", op, ErrNilParameter)
	}
	body, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("%s: unable to encode token response: %w", op, err)
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", origin)
		resp, err := p.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return struct{}{}, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return struct{}{}, fmt.Errorf("endpoint returned %s", resp.Status)
		default:
			return struct{}{}, backoff.Permanent(fmt.Errorf("endpoint returned %s", resp.Status))
		}
	},
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(p.maxRetries+1),
		backoff.WithNotify(func(err error, d time.Duration) {
			p.logger.Warn("retrying popup message", "error", err, "backoff", d)
		}),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
