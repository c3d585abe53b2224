// Package rest implements clients.ClaimStore against a JSON claim service.
package rest

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

	"github.com/tidwall/gjson"

	"github.com/songzhibin97/claimflow/clients"
	"github.com/songzhibin97/claimflow/types"
)

// ClaimStore talks to a claim service over HTTP.
type ClaimStore struct {
	baseURL string
	client  *http.Client
}

// Option configures a ClaimStore.
type Option func(*ClaimStore)

var (
	// ErrBaseURLRequired is returned when no service URL is given.
	ErrBaseURLRequired = errors.New("claim service base URL is required")
	// ErrMalformedResponse is returned when the service reply lacks fields.
	ErrMalformedResponse = errors.New("malformed claim service response")
)

var _ clients.ClaimStore = (*ClaimStore)(nil)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *ClaimStore) {
		if c != nil {
			s.client = c
		}
	}
}

// NewClaimStore creates a client for the service rooted at baseURL.
func NewClaimStore(baseURL string, opts ...Option) (*ClaimStore, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid claim service URL: %w", err)
	}
	s := &ClaimStore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateClaim implements clients.ClaimStore
func (s *ClaimStore) CreateClaim(
	ctx context.Context, c clients.NewClaim,
) (types.ClaimRecord, error) {
	body, err := s.do(ctx, http.MethodPost, "/claims", c)
	if err != nil {
		return types.ClaimRecord{}, err
	}

	id := gjson.GetBytes(body, "id")
	if !id.Exists() || id.String() == "" {
		return types.ClaimRecord{}, fmt.Errorf("%w: no claim id", ErrMalformedResponse)
	}

	var rec types.ClaimRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		// only the id is required
		rec = types.ClaimRecord{Status: types.ClaimSubmitted}
	}
	rec.ID = id.String()
	return rec, nil
}

// PushStatus implements clients.ClaimStore
func (s *ClaimStore) PushStatus(
	ctx context.Context, id string, status types.ClaimStatus, message string,
) error {
	_, err := s.do(ctx, http.MethodPost, claimPath(id, "status"), map[string]string{
		"status":  string(status),
		"message": message,
	})
	return err
}

// GetClaim implements clients.ClaimStore
func (s *ClaimStore) GetClaim(
	ctx context.Context, id string,
) (types.ClaimRecord, error) {
	body, err := s.do(ctx, http.MethodGet, claimPath(id), nil)
	if err != nil {
		return types.ClaimRecord{}, err
	}
	var rec types.ClaimRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return types.ClaimRecord{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return rec, nil
}

// GetHistory implements clients.ClaimStore
func (s *ClaimStore) GetHistory(
	ctx context.Context, id string,
) ([]types.HistoryEvent, error) {
	body, err := s.do(ctx, http.MethodGet, claimPath(id, "history"), nil)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsArray() {
		return nil, fmt.Errorf("%w: history is not an array", ErrMalformedResponse)
	}
	var res []types.HistoryEvent
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return res, nil
}

func (s *ClaimStore) do(
	ctx context.Context, method, path string, payload any,
) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %v", clients.ErrUnavailable, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", clients.ErrUnavailable, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", clients.ErrNotFound, path)
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s %s returned %d",
			clients.ErrUnavailable, method, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg := gjson.GetBytes(body, "error").String()
		return nil, fmt.Errorf("claim service %s %s returned %d: %s",
			method, path, resp.StatusCode, msg)
	}
	return body, nil
}

func claimPath(id string, rest ...string) string {
	parts := append([]string{"/claims", url.PathEscape(id)}, rest...)
	return strings.Join(parts, "/")
}
