package qmatic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/cita-sniper/internal/domain/reservation"
	"github.com/example/cita-sniper/internal/logger"
	"github.com/example/cita-sniper/internal/session"
)

// Executor sends requests with the current transport identity.
type Executor interface {
	Execute(ctx context.Context, req session.Request) (*session.Response, error)
	Endpoint(path string) string
}

type Options struct {
	BranchID         string
	ServiceID        string
	Customer         reservation.Customer
	CustomSlotLength int // minutes held by reserve/confirm
	QuerySlotLength  int // slot length used when listing times
	Log              *slog.Logger
}

// Client is a Qmatic web booking API client. It holds no transport state of
// its own: every call goes through the session Executor.
type Client struct {
	ex   Executor
	opts Options
	log  *slog.Logger
}

const (
	defaultServiceName = "Service"
	defaultQPID        = "3"
	createdBy          = "Qmatic Web Booking"
	staleSince         = "Mon, 26 Jul 1997 05:00:00 GMT"
)

func New(ex Executor, opts Options) *Client {
	if opts.CustomSlotLength <= 0 {
		opts.CustomSlotLength = 10
	}
	if opts.QuerySlotLength <= 0 {
		opts.QuerySlotLength = 1
	}
	return &Client{ex: ex, opts: opts, log: logger.OrDefault(opts.Log)}
}

// ServerTime reads the authoritative clock from the Date header of the
// configuration endpoint. HEAD is tried first, GET as a fallback.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	u := c.ex.Endpoint("configuration")
	resp, err := c.ex.Execute(ctx, session.Request{Method: http.MethodHead, URL: u})
	if err != nil {
		return time.Time{}, err
	}
	if resp.StatusCode >= 400 || resp.Header.Get("Date") == "" {
		resp, err = c.ex.Execute(ctx, session.Request{Method: http.MethodGet, URL: u})
		if err != nil {
			return time.Time{}, err
		}
		if !resp.OK() {
			return time.Time{}, resp.StatusError()
		}
	}
	t, err := http.ParseTime(resp.Header.Get("Date"))
	if err != nil {
		return time.Time{}, fmt.Errorf("qmatic: server date: %w", err)
	}
	return t, nil
}

// ServiceMeta resolves the display name and queue-position id of the
// configured service from the branch catalog.
func (c *Client) ServiceMeta(ctx context.Context) (reservation.ServiceMeta, error) {
	meta := reservation.ServiceMeta{PublicID: c.opts.ServiceID, Name: defaultServiceName, QPID: defaultQPID}
	resp, err := c.ex.Execute(ctx, session.Request{Method: http.MethodGet, URL: c.ex.Endpoint("branches/" + c.opts.BranchID + "/services")})
	if err != nil {
		return meta, err
	}
	if !resp.OK() {
		return meta, resp.StatusError()
	}
	var items []struct {
		PublicID string          `json:"publicId"`
		Name     string          `json:"name"`
		QPID     json.RawMessage `json:"qpId"`
	}
	if !isJSONArray(resp.Body) {
		return meta, nil
	}
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		return meta, fmt.Errorf("qmatic: parse services: %w", err)
	}
	for _, it := range items {
		if it.PublicID != c.opts.ServiceID {
			continue
		}
		if it.Name != "" {
			meta.Name = it.Name
		}
		if qp := strings.Trim(string(it.QPID), `"`); qp != "" && qp != "null" {
			meta.QPID = qp
		}
		break
	}
	return meta, nil
}

// Times lists the open times of date. The request defeats every cache on
// the way: no-store headers, a stale If-Modified-Since and a unique query
// token. An empty or non-array body means nothing is open yet.
func (c *Client) Times(ctx context.Context, date string) ([]string, error) {
	u := c.ex.Endpoint(fmt.Sprintf("branches/%s/dates/%s/times;servicePublicId=%s;customSlotLength=%d",
		c.opts.BranchID, date, c.opts.ServiceID, c.opts.QuerySlotLength))
	u += "?_=" + url.QueryEscape(uuid.NewString())

	h := http.Header{}
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("If-Modified-Since", staleSince)

	resp, err := c.ex.Execute(ctx, session.Request{Method: http.MethodGet, URL: u, Header: h})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, resp.StatusError()
	}
	if !isJSONArray(resp.Body) {
		return []string{}, nil
	}
	var items []struct {
		Time string `json:"time"`
	}
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		return nil, fmt.Errorf("qmatic: parse times: %w", err)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it.Time != "" {
			out = append(out, it.Time)
		}
	}
	return out, nil
}

type peopleService struct {
	PublicID string `json:"publicId"`
	QPID     string `json:"qpId"`
	Adult    int    `json:"adult"`
	Name     string `json:"name"`
	Child    int    `json:"child"`
}

func (c *Client) peopleServices(svc reservation.ServiceMeta) []peopleService {
	return []peopleService{{PublicID: c.opts.ServiceID, QPID: svc.QPID, Adult: 1, Name: svc.Name}}
}

// Reserve holds the slot at time at. ok is false when the service does not
// hand out a reservation id, which means the slot is no longer available.
func (c *Client) Reserve(ctx context.Context, date, at string, svc reservation.ServiceMeta) (reservation.Pending, bool, error) {
	custom, err := json.Marshal(struct {
		PeopleServices []peopleService `json:"peopleServices"`
	}{c.peopleServices(svc)})
	if err != nil {
		return reservation.Pending{}, false, err
	}
	body, err := json.Marshal(map[string]any{
		"services": []map[string]string{{"publicId": c.opts.ServiceID}},
		"custom":   string(custom),
	})
	if err != nil {
		return reservation.Pending{}, false, err
	}
	u := c.ex.Endpoint(fmt.Sprintf("branches/%s/dates/%s/times/%s/reserve;customSlotLength=%d",
		c.opts.BranchID, date, at, c.opts.CustomSlotLength))

	resp, err := c.ex.Execute(ctx, session.Request{Method: http.MethodPost, URL: u, Body: body})
	if err != nil {
		return reservation.Pending{}, false, err
	}
	c.log.Info("reserve", "time", at, "status", resp.StatusCode, "body", excerpt(resp.Body, 200))
	if resp.StatusCode != http.StatusOK {
		return reservation.Pending{}, false, nil
	}
	var r struct {
		PublicID string `json:"publicId"`
	}
	if err := json.Unmarshal(resp.Body, &r); err != nil || r.PublicID == "" {
		return reservation.Pending{}, false, nil
	}
	return reservation.Pending{PublicID: r.PublicID, Service: svc, Time: at, ReservedAt: time.Now()}, true, nil
}

// CheckMultiple is the service's eligibility / duplicate-booking check.
func (c *Client) CheckMultiple(ctx context.Context, date, at string) error {
	cu := c.opts.Customer
	params := []struct{ k, v string }{
		{"phone", cu.Phone},
		{"email", cu.Email},
		{"custRef", cu.CustRef},
		{"firstName", cu.FirstName},
		{"lastName", cu.LastName},
		{"branchPublicId", c.opts.BranchID},
		{"servicePublicId", c.opts.ServiceID},
		{"date", date},
		{"time", at},
	}
	var b strings.Builder
	b.WriteString("appointments/checkMultiple")
	for _, p := range params {
		b.WriteString(";" + p.k + "=" + url.PathEscape(p.v))
	}
	resp, err := c.ex.Execute(ctx, session.Request{Method: http.MethodGet, URL: c.ex.Endpoint(b.String())})
	if err != nil {
		return err
	}
	c.log.Debug("checkMultiple", "status", resp.StatusCode, "body", excerpt(resp.Body, 200))
	if !resp.OK() {
		return resp.StatusError()
	}
	return nil
}

// MatchCustomer resolves the customer identity server-side.
func (c *Client) MatchCustomer(ctx context.Context) error {
	cu := c.opts.Customer
	body, err := json.Marshal(map[string]string{
		"email":       cu.Email,
		"phone":       cu.Phone,
		"firstName":   cu.FirstName,
		"lastName":    cu.LastName,
		"dateOfBirth": "",
		"externalId":  cu.CustRef,
	})
	if err != nil {
		return err
	}
	resp, err := c.ex.Execute(ctx, session.Request{Method: http.MethodPost, URL: c.ex.Endpoint("matchCustomer"), Body: body})
	if err != nil {
		return err
	}
	c.log.Debug("matchCustomer", "status", resp.StatusCode, "body", excerpt(resp.Body, 400))
	if !resp.OK() {
		return resp.StatusError()
	}
	return nil
}

type confirmCustomer struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DateOfBirth string `json:"dateOfBirth"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	DOB         string `json:"dob"`
	ExternalID  string `json:"externalId"`
}

type confirmRequest struct {
	Customer         confirmCustomer `json:"customer"`
	LanguageCode     string          `json:"languageCode"`
	CountryCode      string          `json:"countryCode"`
	NotificationType string          `json:"notificationType"`
	Captcha          string          `json:"captcha"`
	Custom           string          `json:"custom"`
	Notes            string          `json:"notes"`
	Title            string          `json:"title"`
}

// Confirm turns the pending reservation into an appointment. Any non-2xx
// answer is returned as a *session.StatusError.
func (c *Client) Confirm(ctx context.Context, p reservation.Pending) (reservation.Confirmation, error) {
	custom, err := json.Marshal(struct {
		PeopleServices   []peopleService `json:"peopleServices"`
		TotalCost        int             `json:"totalCost"`
		CreatedByUser    string          `json:"createdByUser"`
		PaymentRef       string          `json:"paymentRef"`
		CustomSlotLength int             `json:"customSlotLength"`
	}{c.peopleServices(p.Service), 0, createdBy, "", c.opts.CustomSlotLength})
	if err != nil {
		return reservation.Confirmation{}, err
	}
	cu := c.opts.Customer
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(confirmRequest{
		Customer: confirmCustomer{
			FirstName:  cu.FirstName,
			LastName:   cu.LastName,
			Email:      cu.Email,
			Phone:      cu.Phone,
			ExternalID: cu.CustRef,
		},
		LanguageCode: "es",
		CountryCode:  "es",
		Custom:       string(custom),
		Title:        createdBy,
	}); err != nil {
		return reservation.Confirmation{}, err
	}

	u := c.ex.Endpoint("appointments/" + url.PathEscape(p.PublicID) + "/confirm")
	resp, err := c.ex.Execute(ctx, session.Request{Method: http.MethodPost, URL: u, Body: body.Bytes()})
	if err != nil {
		return reservation.Confirmation{}, err
	}
	c.log.Info("confirm", "reservation", p.PublicID, "status", resp.StatusCode)
	if resp.StatusCode >= 500 {
		c.log.Warn("confirm server error", "body", excerpt(resp.Body, 1500))
	}
	if !resp.OK() {
		return reservation.Confirmation{}, resp.StatusError()
	}
	var r struct {
		Status     string          `json:"status"`
		ExternalID json.RawMessage `json:"externalId"`
	}
	if err := json.Unmarshal(resp.Body, &r); err != nil {
		return reservation.Confirmation{}, fmt.Errorf("qmatic: parse confirm: %w", err)
	}
	ref := strings.Trim(string(r.ExternalID), `"`)
	if ref == "null" {
		ref = ""
	}
	return reservation.Confirmation{Reference: ref, Status: r.Status, Time: p.Time}, nil
}

func isJSONArray(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '['
}

func excerpt(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "…"
	}
	return s
}

// compile-time check
var _ reservation.BookingAPI = (*Client)(nil)
