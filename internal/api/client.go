// Package api is the request/response client for the quiz server's read and
// write endpoints. Every response body is a protocol envelope.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/logging"
	"quiz-sync/internal/protocol"
)

const DefaultTimeout = 10 * time.Second

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, strings.TrimSpace(e.Body))
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// ErrFailedStep is returned when the server answers with STATUS:FAILED.
var ErrFailedStep = errors.New("server reported failure")

type Client struct {
	base  string
	http  *http.Client
	log   *zap.Logger
	group singleflight.Group
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
		log:  logging.OrNop(log).Named("api"),
	}
}

type sessionPayload struct {
	Session domain.Session `json:"session"`
}

type membersPayload struct {
	Members []domain.Member `json:"members"`
}

// GetSession fetches a session definition. Concurrent calls for the same name share one request.
func (c *Client) GetSession(ctx context.Context, name string) (*domain.Session, error) {
	v, err, _ := c.group.Do("session:"+name, func() (any, error) {
		var p sessionPayload
		if _, err := c.do(ctx, http.MethodGet, "/quiz/"+url.PathEscape(name), nil, &p); err != nil {
			return nil, err
		}
		return domain.NormalizeSession(p.Session), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Session).Clone(), nil
}

func (c *Client) PutSavedSession(ctx context.Context, s *domain.Session) error {
	_, err := c.do(ctx, http.MethodPut, "/quiz/saved", s, nil)
	return err
}

// DeleteActiveSession asks the server to deactivate the session.
func (c *Client) DeleteActiveSession(ctx context.Context, s *domain.Session) error {
	_, err := c.do(ctx, http.MethodDelete, "/quiz/active/"+url.PathEscape(s.Name), nil, nil)
	return err
}

// GetMembers fetches the roster snapshot. Concurrent calls for the same name share one request.
func (c *Client) GetMembers(ctx context.Context, name string) ([]domain.Member, error) {
	v, err, _ := c.group.Do("members:"+name, func() (any, error) {
		var p membersPayload
		if _, err := c.do(ctx, http.MethodGet, "/member/"+url.PathEscape(name), nil, &p); err != nil {
			return nil, err
		}
		return p.Members, nil
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]domain.Member)
	out := make([]domain.Member, len(shared))
	for i := range shared {
		out[i] = shared[i].Clone()
	}
	return out, nil
}

func (c *Client) DeleteMember(ctx context.Context, sessionName, memberName string) error {
	path := "/member/" + url.PathEscape(sessionName) + "/" + url.PathEscape(memberName)
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

// AdvanceStep moves the session to its next step and returns the server's envelope.
func (c *Client) AdvanceStep(ctx context.Context, sessionName string) (protocol.Envelope, error) {
	return c.do(ctx, http.MethodPost, "/quiz/"+url.PathEscape(sessionName)+"/next", nil, nil)
}

// Ping issues the idempotent OPTIONS request on the statistics endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, c.base+"/statistics", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("OPTIONS /statistics: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return &StatusError{Method: http.MethodOptions, Path: "/statistics", Code: resp.StatusCode}
	}
	return nil
}

// Probe makes the client usable as the transport latency prober.
func (c *Client) Probe(ctx context.Context) error {
	return c.Ping(ctx)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (protocol.Envelope, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return protocol.Envelope{}, fmt.Errorf("%s %s: encode: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return protocol.Envelope{}, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("%s %s: read: %w", method, path, err)
	}
	if resp.StatusCode/100 != 2 {
		return protocol.Envelope{}, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(data)}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return protocol.Envelope{}, nil
	}

	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("%s %s: decode envelope: %w", method, path, err)
	}
	if env.Failed() {
		c.log.Debug("server reported failed step", zap.String("path", path), zap.String("step", string(env.Step)))
		return env, fmt.Errorf("%s %s: %w", method, path, ErrFailedStep)
	}
	if out != nil && len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, out); err != nil {
			return env, fmt.Errorf("%s %s: decode payload: %w", method, path, err)
		}
	}
	return env, nil
}
