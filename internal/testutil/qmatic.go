package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Endpoint names understood by FakeQmatic.
const (
	EPConfiguration = "configuration"
	EPUI            = "ui"
	EPBranches      = "branches"
	EPServices      = "services"
	EPTimes         = "times"
	EPReserve       = "reserve"
	EPCheckMultiple = "checkMultiple"
	EPMatchCustomer = "matchCustomer"
	EPConfirm       = "confirm"
)

const (
	uiPath   = "/qmaticwebbooking/"
	restPath = "/qmaticwebbooking/rest"
)

// FakeQmatic is an in-process stand-in for the Qmatic web booking REST API.
// Handlers run on server goroutines; all state is guarded by mu.
type FakeQmatic struct {
	Server *httptest.Server

	mu           sync.Mutex
	token        string
	cookie       string
	cookieFromUI bool
	times        [][]string
	reserveIDs   []string
	confirms     []ConfirmReply
	violate      map[string]int
	overrides    map[string]http.HandlerFunc
	hits         map[string]int
	requests     map[string][]*http.Request
	bodies       map[string][]string
	now          func() time.Time
}

// ConfirmReply scripts one confirm response.
type ConfirmReply struct {
	Status    int
	Reference string
	State     string
}

func NewFakeQmatic() *FakeQmatic {
	f := &FakeQmatic{
		token:        "csrf-1",
		cookie:       "sess-1",
		cookieFromUI: true,
		violate:      map[string]int{},
		overrides:    map[string]http.HandlerFunc{},
		hits:         map[string]int{},
		requests:     map[string][]*http.Request{},
		bodies:       map[string][]string{},
		now:          time.Now,
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	return f
}

func (f *FakeQmatic) Close() { f.Server.Close() }

func (f *FakeQmatic) RESTBase() string { return f.Server.URL + restPath }
func (f *FakeQmatic) UIBase() string   { return f.Server.URL + uiPath }

// SetCookieFromUI controls whether the bootstrap page sets the session
// cookie; when false only the branches endpoint does.
func (f *FakeQmatic) SetCookieFromUI(v bool) { f.with(func() { f.cookieFromUI = v }) }
func (f *FakeQmatic) SetToken(tok string)     { f.with(func() { f.token = tok }) }
func (f *FakeQmatic) SetNow(now func() time.Time) {
	f.with(func() { f.now = now })
}

// QueueTimes scripts successive times responses; the last one repeats.
func (f *FakeQmatic) QueueTimes(lists ...[]string) {
	f.with(func() { f.times = append(f.times, lists...) })
}

// QueueReserve scripts successive reservation ids; "" means 200 without id.
// When the queue is empty reserve returns 409.
func (f *FakeQmatic) QueueReserve(ids ...string) {
	f.with(func() { f.reserveIDs = append(f.reserveIDs, ids...) })
}

func (f *FakeQmatic) QueueConfirm(replies ...ConfirmReply) {
	f.with(func() { f.confirms = append(f.confirms, replies...) })
}

// Violate makes the next n calls to endpoint answer with the violation marker.
func (f *FakeQmatic) Violate(endpoint string, n int) {
	f.with(func() { f.violate[endpoint] += n })
}

func (f *FakeQmatic) Override(endpoint string, h http.HandlerFunc) {
	f.with(func() { f.overrides[endpoint] = h })
}

func (f *FakeQmatic) Hits(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[endpoint]
}

// Requests returns the recorded requests for endpoint.
func (f *FakeQmatic) Requests(endpoint string) []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*http.Request(nil), f.requests[endpoint]...)
}

// Bodies returns the recorded request bodies for endpoint.
func (f *FakeQmatic) Bodies(endpoint string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bodies[endpoint]...)
}

func (f *FakeQmatic) with(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func classify(path string) string {
	if path == uiPath || path == strings.TrimSuffix(uiPath, "/") {
		return EPUI
	}
	p := strings.TrimPrefix(path, restPath+"/schedule/")
	switch {
	case p == "configuration":
		return EPConfiguration
	case p == "branches":
		return EPBranches
	case p == "matchCustomer":
		return EPMatchCustomer
	case strings.HasPrefix(p, "appointments/checkMultiple"):
		return EPCheckMultiple
	case strings.HasPrefix(p, "appointments/") && strings.HasSuffix(p, "/confirm"):
		return EPConfirm
	case strings.HasSuffix(p, "/services"):
		return EPServices
	case strings.Contains(p, "/reserve"):
		return EPReserve
	case strings.Contains(p, "/times"):
		return EPTimes
	}
	return ""
}

func (f *FakeQmatic) serve(w http.ResponseWriter, r *http.Request) {
	ep := classify(r.URL.Path)
	body := readAll(r)

	f.mu.Lock()
	f.hits[ep]++
	f.requests[ep] = append(f.requests[ep], r)
	f.bodies[ep] = append(f.bodies[ep], body)
	override := f.overrides[ep]
	violate := f.violate[ep] > 0
	if violate {
		f.violate[ep]--
	}
	now := f.now()
	f.mu.Unlock()

	w.Header().Set("Date", now.UTC().Format(http.TimeFormat))
	if violate {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"errorCode": "E_SESSION_VIOLATION", "message": "invalid"})
		return
	}
	if override != nil {
		override(w, r)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch ep {
	case EPConfiguration:
		if r.Method == http.MethodHead {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": f.token})
	case EPUI:
		if f.cookieFromUI {
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: f.cookie, Path: "/qmaticwebbooking"})
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	case EPBranches:
		if !f.cookieFromUI {
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: f.cookie, Path: "/qmaticwebbooking"})
		}
		writeJSON(w, http.StatusOK, []any{})
	case EPServices:
		writeJSON(w, http.StatusOK, []map[string]any{
			{"publicId": "other", "name": "Other", "qpId": 1},
			{"publicId": "svc-1", "name": "Legalizaciones", "qpId": 7},
		})
	case EPTimes:
		var list []string
		if len(f.times) > 0 {
			list = f.times[0]
			if len(f.times) > 1 {
				f.times = f.times[1:]
			}
		}
		out := make([]map[string]string, 0, len(list))
		for _, t := range list {
			out = append(out, map[string]string{"date": "2025-12-15", "time": t})
		}
		writeJSON(w, http.StatusOK, out)
	case EPReserve:
		if len(f.reserveIDs) == 0 {
			writeJSON(w, http.StatusConflict, map[string]any{"msg": "slot taken"})
			return
		}
		id := f.reserveIDs[0]
		f.reserveIDs = f.reserveIDs[1:]
		if id == "" {
			writeJSON(w, http.StatusOK, map[string]any{})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"publicId": id})
	case EPCheckMultiple:
		writeJSON(w, http.StatusOK, map[string]any{"result": "ok"})
	case EPMatchCustomer:
		writeJSON(w, http.StatusOK, []any{})
	case EPConfirm:
		if len(f.confirms) == 0 {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"msg": "no confirm scripted"})
			return
		}
		c := f.confirms[0]
		f.confirms = f.confirms[1:]
		if c.Status == 0 {
			c.Status = http.StatusOK
		}
		writeJSON(w, c.Status, map[string]any{"status": c.State, "externalId": c.Reference})
	default:
		http.NotFound(w, r)
	}
}

func readAll(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	b, _ := io.ReadAll(r.Body)
	return string(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
