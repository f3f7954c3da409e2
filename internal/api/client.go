// Package api talks to the remote appointment store and the identity
// provider over their REST surfaces.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"schedule-client/internal/apperr"
	"schedule-client/internal/model"
)

const maxBody = 4 << 20

type Client struct {
	base string
	hc   *http.Client
	log  *slog.Logger
}

type Option func(*Client)

// WithHTTPClient sets the client used for every call; its transport carries
// auth, rate limiting and request ids.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New builds a client rooted at baseURL, e.g. http://localhost:8000/api.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: 15 * time.Second},
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string { return c.base }

type call struct {
	op     string
	method string
	path   string
	body   any
	out    any
	bearer string
}

func (c *Client) do(ctx context.Context, k call) error {
	var rd io.Reader
	if k.body != nil {
		b, err := json.Marshal(k.body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", k.op, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, k.method, c.base+k.path, rd)
	if err != nil {
		return fmt.Errorf("%s: %w", k.op, err)
	}
	req.Header.Set("Accept", "application/json")
	if k.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if k.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+k.bearer)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Debug("request failed", "op", k.op, "method", k.method, "path", k.path, "error", err)
		// a rejected session surfaces from the transport as-is
		if apperr.KindOf(err) != 0 {
			return err
		}
		return apperr.Wrap(apperr.Transport, k.op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return apperr.Wrap(apperr.Transport, k.op, err)
	}
	c.log.Debug("request done", "op", k.op, "method", k.method, "path", k.path,
		"status", resp.StatusCode, "took", time.Since(start))

	if resp.StatusCode >= 400 {
		return apperr.FromStatus(k.op, resp.StatusCode, detail(data))
	}
	if k.out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return apperr.New(apperr.Malformed, k.op, "empty response body")
	}
	if err := json.Unmarshal(data, k.out); err != nil {
		return apperr.Wrap(apperr.Malformed, k.op, err)
	}
	return nil
}

// detail pulls a readable message out of an error body: the "detail" field,
// field errors, a list of messages, or the raw text.
func detail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err == nil {
		if d, ok := obj["detail"].(string); ok {
			return d
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+flatten(obj[k]))
		}
		return strings.Join(parts, "; ")
	}
	var list []any
	if err := json.Unmarshal(b, &list); err == nil {
		return flatten(list)
	}
	s := string(b)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func flatten(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, flatten(e))
		}
		return strings.Join(parts, ", ")
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// escapeSegment encodes s for use as one path segment, including '@'.
func escapeSegment(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func terminPath(id int64) string {
	return "/termine/" + strconv.FormatInt(id, 10) + "/"
}

// Token exchanges credentials for an access and refresh token.
func (c *Client) Token(ctx context.Context, username, password string) (model.TokenPair, error) {
	const op = "token"
	var pair model.TokenPair
	err := c.do(ctx, call{
		op: op, method: http.MethodPost, path: "/token/",
		body: map[string]string{"username": username, "password": password},
		out:  &pair,
	})
	if errors.Is(err, apperr.ErrUnauthorized) {
		var e *apperr.Error
		errors.As(err, &e)
		return model.TokenPair{}, &apperr.Error{Kind: apperr.InvalidCredentials, Op: op, Status: e.Status, Msg: e.Msg}
	}
	if err != nil {
		return model.TokenPair{}, err
	}
	if pair.Access == "" || pair.Refresh == "" {
		return model.TokenPair{}, apperr.New(apperr.Malformed, op, "token pair incomplete")
	}
	return pair, nil
}

// RefreshToken returns a new access token for refresh.
func (c *Client) RefreshToken(ctx context.Context, refresh string) (string, error) {
	const op = "refresh token"
	var out struct {
		Access string `json:"access"`
	}
	err := c.do(ctx, call{
		op: op, method: http.MethodPost, path: "/token/refresh/",
		body: map[string]string{"refresh": refresh},
		out:  &out,
	})
	if err != nil {
		return "", err
	}
	if out.Access == "" {
		return "", apperr.New(apperr.Malformed, op, "no access token in response")
	}
	return out.Access, nil
}

// CurrentUser fetches the authoritative attributes of the token's owner.
func (c *Client) CurrentUser(ctx context.Context, access string) (*model.User, error) {
	u := &model.User{}
	err := c.do(ctx, call{
		op: "current user", method: http.MethodGet, path: "/current-user/",
		out: u, bearer: access,
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Client) list(ctx context.Context, op, path string) ([]model.Appointment, error) {
	var ts []termin
	if err := c.do(ctx, call{op: op, method: http.MethodGet, path: path, out: &ts}); err != nil {
		return nil, err
	}
	appts, err := fromWireList(ts)
	if err != nil {
		return nil, apperr.Wrap(apperr.Malformed, op, err)
	}
	return appts, nil
}

func (c *Client) one(ctx context.Context, k call) (model.Appointment, error) {
	var t termin
	k.out = &t
	if err := c.do(ctx, k); err != nil {
		return model.Appointment{}, err
	}
	a, err := fromWire(t)
	if err != nil {
		return model.Appointment{}, apperr.Wrap(apperr.Malformed, k.op, err)
	}
	return a, nil
}

// ListAll returns every appointment the caller may see.
func (c *Client) ListAll(ctx context.Context) ([]model.Appointment, error) {
	return c.list(ctx, "list all", "/termine/")
}

// ListFree returns the free appointments.
func (c *Client) ListFree(ctx context.Context) ([]model.Appointment, error) {
	return c.list(ctx, "list free", "/termine/verfuegbar/")
}

// ListByUser returns the appointments booked under email.
func (c *Client) ListByUser(ctx context.Context, email string) ([]model.Appointment, error) {
	return c.list(ctx, "list by user", "/termine/benutzer/"+escapeSegment(email)+"/")
}

func (c *Client) Get(ctx context.Context, id int64) (model.Appointment, error) {
	return c.one(ctx, call{op: "get", method: http.MethodGet, path: terminPath(id)})
}

func (c *Client) Create(ctx context.Context, a model.Appointment) (model.Appointment, error) {
	return c.one(ctx, call{op: "create", method: http.MethodPost, path: "/termine/", body: toWire(a)})
}

func (c *Client) Update(ctx context.Context, id int64, a model.Appointment) (model.Appointment, error) {
	return c.one(ctx, call{op: "update", method: http.MethodPut, path: terminPath(id), body: toWire(a)})
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, call{op: "delete", method: http.MethodDelete, path: terminPath(id)})
}

// Book reserves an appointment; the response is the server's booked record.
func (c *Client) Book(ctx context.Context, req model.BookingRequest) (model.Appointment, error) {
	return c.one(ctx, call{
		op: "book", method: http.MethodPost, path: terminPath(req.AppointmentID) + "buchen/",
		body: buchung{
			PatientName:    req.PatientName,
			PatientEmail:   req.PatientEmail,
			PatientTelefon: req.PatientPhone,
			PatientPhone:   req.PatientPhone,
		},
	})
}
