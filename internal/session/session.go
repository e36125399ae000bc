package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"github.com/example/cita-sniper/internal/logger"
	"github.com/example/cita-sniper/internal/retry"
)

// State of the transport identity.
type State int

const (
	Uninitialized State = iota
	Ready
	Violated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Violated:
		return "violated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is the transport identity: anti-forgery token plus session cookie.
type Session struct {
	ID        string
	Token     string
	Cookie    string
	CreatedAt time.Time
}

const (
	tokenHeader       = "X-Csrf-Token"
	DefaultCookieName = "JSESSIONID"
)

type Options struct {
	RESTBase string // e.g. https://host/qmaticwebbooking/rest
	UIBase   string // bootstrap page that sets the session cookie
	BranchID string
	Headers  http.Header
	Marker   string

	CookieName          string
	InitAttempts        int
	ViolationDelay      time.Duration
	TransportRetryDelay time.Duration
	Timeout             time.Duration

	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
	Log       *slog.Logger
}

// Manager exclusively owns the transport identity. Every request to the
// remote service goes through Execute. A Manager is not safe for concurrent
// use.
type Manager struct {
	opts  Options
	log   *slog.Logger
	ui    *url.URL
	rest  *url.URL
	state State
	sess  Session

	jar      http.CookieJar
	follow   *http.Client
	noFollow *http.Client
}

func New(opts Options) (*Manager, error) {
	ui, err := url.Parse(opts.UIBase)
	if err != nil {
		return nil, fmt.Errorf("session: ui base: %w", err)
	}
	rest, err := url.Parse(opts.RESTBase)
	if err != nil {
		return nil, fmt.Errorf("session: rest base: %w", err)
	}
	if opts.Marker == "" {
		opts.Marker = DefaultMarker
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.InitAttempts < 1 {
		opts.InitAttempts = 3
	}
	if opts.TransportRetryDelay <= 0 {
		opts.TransportRetryDelay = 150 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	m := &Manager{opts: opts, log: logger.OrDefault(opts.Log), ui: ui, rest: rest}
	m.Reset()
	return m, nil
}

// DefaultHeaders are the browser-like base headers installed on every
// fresh identity.
func DefaultHeaders(origin, referer string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", "Mozilla/5.0")
	h.Set("Origin", origin)
	h.Set("Referer", referer)
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "es-ES,es;q=0.8")
	h.Set("Content-Type", "application/json")
	h.Set("X-Requested-With", "XMLHttpRequest")
	return h
}

func (m *Manager) State() State     { return m.state }
func (m *Manager) Session() Session { return m.sess }
func (m *Manager) BranchID() string { return m.opts.BranchID }

// Endpoint returns the absolute URL of a schedule REST path.
func (m *Manager) Endpoint(path string) string {
	return strings.TrimRight(m.opts.RESTBase, "/") + "/schedule/" + strings.TrimLeft(path, "/")
}

// Reset discards every piece of transport state and installs a pristine
// identity carrying only the base headers.
func (m *Manager) Reset() {
	if m.follow != nil {
		m.follow.CloseIdleConnections()
	}
	tr := m.opts.Transport
	if tr == nil {
		tr = http.DefaultTransport.(*http.Transport).Clone()
	}
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	m.jar = jar
	m.follow = &http.Client{Jar: jar, Timeout: m.opts.Timeout, Transport: tr}
	m.noFollow = &http.Client{
		Jar:       jar,
		Timeout:   m.opts.Timeout,
		Transport: tr,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	m.sess = Session{ID: uuid.NewString()}
	m.state = Uninitialized
}

// Recover is the reset-capable owner's answer to a violation: a full
// Reset followed by Init.
func (m *Manager) Recover(ctx context.Context) error {
	m.Reset()
	return m.Init(ctx)
}

// Init obtains the anti-forgery token and the session cookie. Violations
// during bootstrap are retried on a fresh identity.
func (m *Manager) Init(ctx context.Context) error {
	if m.state == Violated {
		return fmt.Errorf("session: reset required before init: %w", ErrSessionViolation)
	}
	p := retry.Policy{
		MaxAttempts: m.opts.InitAttempts,
		Backoff:     m.opts.ViolationDelay,
		Retryable:   IsViolation,
		Between: func(ctx context.Context, attempt int, err error) error {
			m.sessionLog().Warn("session violation during init, retrying", "attempt", attempt, "of", m.opts.InitAttempts)
			m.Reset()
			return nil
		},
	}
	return p.Do(ctx, m.bootstrap)
}

func (m *Manager) bootstrap(ctx context.Context) error {
	resp, err := m.execute(ctx, Request{Method: http.MethodGet, URL: m.Endpoint("configuration")})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &InitError{Stage: "token", Err: resp.StatusError()}
	}
	var cfg struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body, &cfg); err != nil || cfg.Token == "" {
		return &InitError{Stage: "token", Err: errors.New("configuration returned no token")}
	}
	m.sess.Token = cfg.Token
	m.sessionLog().Info("anti-forgery token obtained", "token", abbreviate(cfg.Token, 12))

	resp, err = m.execute(ctx, Request{Method: http.MethodGet, URL: m.ui.String(), FollowRedirects: true})
	switch {
	case err != nil && (IsViolation(err) || ctx.Err() != nil):
		return err
	case err != nil:
		m.sessionLog().Warn("bootstrap page failed, trying REST endpoints", "error", err)
	default:
		if c, inJar := m.cookieFrom(resp); c != "" {
			m.installCookie(c, inJar, "ui")
			return nil
		}
	}

	for _, path := range []string{"branches", "branches/" + m.opts.BranchID + "/services"} {
		resp, err := m.execute(ctx, Request{Method: http.MethodGet, URL: m.Endpoint(path)})
		if err != nil {
			if IsViolation(err) || ctx.Err() != nil {
				return err
			}
			m.sessionLog().Warn("cookie fallback failed", "path", path, "error", err)
			continue
		}
		if c, inJar := m.cookieFrom(resp); c != "" {
			m.installCookie(c, inJar, "rest")
			return nil
		}
	}
	return &InitError{Stage: "cookie", Err: fmt.Errorf("no %s set by any bootstrap endpoint", m.opts.CookieName)}
}

func (m *Manager) installCookie(value string, inJar bool, source string) {
	if !inJar {
		m.jar.SetCookies(m.ui, []*http.Cookie{{Name: m.opts.CookieName, Value: value, Path: "/"}})
	}
	m.sess.Cookie = value
	m.sess.CreatedAt = time.Now()
	m.state = Ready
	m.sessionLog().Info("session cookie obtained", "source", source, "cookie", abbreviate(value, 12))
}

// cookieFrom looks for the session cookie in the jar first, then in the
// raw Set-Cookie headers of resp.
func (m *Manager) cookieFrom(resp *Response) (value string, inJar bool) {
	for _, u := range []*url.URL{m.ui, m.rest} {
		for _, c := range m.jar.Cookies(u) {
			if c.Name == m.opts.CookieName && c.Value != "" {
				return c.Value, true
			}
		}
	}
	if resp == nil {
		return "", false
	}
	for _, c := range (&http.Response{Header: resp.Header}).Cookies() {
		if c.Name == m.opts.CookieName && c.Value != "" {
			return c.Value, false
		}
	}
	return "", false
}

// Request is a single call to the remote service.
type Request struct {
	Method          string
	URL             string
	Header          http.Header
	Body            []byte
	FollowRedirects bool
}

// Response is a fully read response.
type Response struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

func (r *Response) StatusError() error {
	return &StatusError{Method: r.Method, URL: r.URL, Code: r.StatusCode, Body: abbreviate(string(r.Body), 200)}
}

// Execute sends req with the current identity, which must be Ready. A
// connection failure is retried once after a short delay. Responses carrying
// the invalidation marker are returned together with a *ViolationError and
// mark the identity unusable until Reset.
func (m *Manager) Execute(ctx context.Context, req Request) (*Response, error) {
	if m.state == Uninitialized {
		return nil, &InitError{Stage: "state", Err: ErrNotInitialized}
	}
	return m.execute(ctx, req)
}

// execute is Execute without the readiness check; bootstrap runs on an
// uninitialized identity.
func (m *Manager) execute(ctx context.Context, req Request) (*Response, error) {
	if m.state == Violated {
		return nil, fmt.Errorf("session: identity invalidated, reset required: %w", ErrSessionViolation)
	}
	resp, err := m.send(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.sessionLog().Debug("transport failure, retrying once", "method", req.Method, "url", req.URL, "error", err)
		if serr := retry.Sleep(ctx, m.opts.TransportRetryDelay); serr != nil {
			return nil, serr
		}
		resp, err = m.send(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &TransportError{Method: req.Method, URL: req.URL, Err: err}
		}
	}

	if DetectViolation(m.opts.Marker, resp.Header.Get("Content-Type"), resp.Body) {
		m.state = Violated
		m.sessionLog().Warn("session violation detected", "method", req.Method, "url", req.URL, "status", resp.StatusCode)
		return resp, &ViolationError{Method: req.Method, URL: req.URL, StatusCode: resp.StatusCode}
	}
	if tok := resp.Header.Get(tokenHeader); tok != "" && tok != m.sess.Token {
		m.sess.Token = tok
		m.sessionLog().Debug("anti-forgery token refreshed", "token", abbreviate(tok, 12))
	}
	return resp, nil
}

func (m *Manager) send(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range m.opts.Headers {
		hr.Header[k] = append([]string(nil), vs...)
	}
	if m.sess.Token != "" {
		hr.Header.Set(tokenHeader, m.sess.Token)
	}
	for k, vs := range req.Header {
		hr.Header[k] = append([]string(nil), vs...)
	}

	c := m.noFollow
	if req.FollowRedirects {
		c = m.follow
	}
	res, err := c.Do(hr)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Method: req.Method, URL: req.URL, StatusCode: res.StatusCode, Header: res.Header, Body: b}, nil
}

func (m *Manager) sessionLog() *slog.Logger { return m.log.With("session", m.sess.ID) }

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
