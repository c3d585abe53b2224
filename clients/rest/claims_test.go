package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/claimflow/clients"
	"github.com/songzhibin97/claimflow/types"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *ClaimStore {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	s, err := NewClaimStore(srv.URL + "/")
	require.NoError(t, err)
	return s
}

func TestNewClaimStore(t *testing.T) {
	_, err := NewClaimStore("  ")
	assert.ErrorIs(t, err, ErrBaseURLRequired)
}

func TestCreateClaim(t *testing.T) {
	var got map[string]any
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/claims", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"CLM-1234ABCD","status":"SUBMITTED"}`))
	})

	rec, err := s.CreateClaim(context.Background(), clients.NewClaim{
		CustomerID:    "C-1",
		PolicyNumber:  "P-1001",
		ClaimedAmount: decimal.RequireFromString("12.30"),
	})
	require.NoError(t, err)
	assert.Equal(t, "CLM-1234ABCD", rec.ID)
	assert.Equal(t, types.ClaimSubmitted, rec.Status)
	assert.Equal(t, "P-1001", got["policy_number"])
	assert.Equal(t, "12.3", got["claimed_amount"])
}

func TestCreateClaimWithoutID(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"SUBMITTED"}`))
	})
	_, err := s.CreateClaim(context.Background(), clients.NewClaim{})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestPushStatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		target error
	}{
		{"not found", http.StatusNotFound, clients.ErrNotFound},
		{"server error", http.StatusBadGateway, clients.ErrUnavailable},
		{"throttled", http.StatusTooManyRequests, clients.ErrUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/claims/CLM-1/status", r.URL.Path)
				w.WriteHeader(tc.code)
			})
			err := s.PushStatus(context.Background(), "CLM-1", types.ClaimApproved, "m")
			assert.ErrorIs(t, err, tc.target)
		})
	}
}

func TestPushStatusClientError(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad status"}`))
	})
	err := s.PushStatus(context.Background(), "CLM-1", "NOPE", "m")
	require.Error(t, err)
	assert.NotErrorIs(t, err, clients.ErrUnavailable)
	assert.Contains(t, err.Error(), "bad status")
}

func TestUnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s, err := NewClaimStore(url)
	require.NoError(t, err)
	err = s.PushStatus(context.Background(), "CLM-1", types.ClaimApproved, "m")
	assert.ErrorIs(t, err, clients.ErrUnavailable)
}

func TestReadPaths(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/claims/CLM-1":
			_, _ = w.Write([]byte(`{"id":"CLM-1","status":"APPROVED","claimed_amount":"10.5"}`))
		case "/claims/CLM-1/history":
			_, _ = w.Write([]byte(`[{"timestamp":1,"status":"SUBMITTED","message":"Claim submitted"},` +
				`{"timestamp":2,"status":"APPROVED","message":"ok"}]`))
		case "/claims/CLM-2/history":
			_, _ = w.Write([]byte(`{"oops":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	rec, err := s.GetClaim(ctx, "CLM-1")
	require.NoError(t, err)
	assert.Equal(t, types.ClaimApproved, rec.Status)
	assert.True(t, decimal.RequireFromString("10.5").Equal(rec.ClaimedAmount))

	hist, err := s.GetHistory(ctx, "CLM-1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "ok", hist[1].Message)

	_, err = s.GetHistory(ctx, "CLM-2")
	assert.ErrorIs(t, err, ErrMalformedResponse)

	_, err = s.GetClaim(ctx, "CLM-9")
	assert.ErrorIs(t, err, clients.ErrNotFound)
}
