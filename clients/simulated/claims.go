package simulated

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/songzhibin97/claimflow/clients"
	"github.com/songzhibin97/claimflow/types"
)

// ClaimStore is an in-memory claim store with append-only history.
type ClaimStore struct {
	claims map[string]*types.ClaimRecord
	mu     sync.RWMutex
}

var _ clients.ClaimStore = (*ClaimStore)(nil)

// NewClaimStore creates an empty in-memory claim store.
func NewClaimStore() *ClaimStore {
	return &ClaimStore{
		claims: make(map[string]*types.ClaimRecord),
	}
}

// CreateClaim stores a new claim in SUBMITTED status.
func (s *ClaimStore) CreateClaim(
	ctx context.Context, c clients.NewClaim,
) (types.ClaimRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.ClaimRecord{}, err
	}

	now := time.Now().UnixMilli()
	rec := &types.ClaimRecord{
		ID:            "CLM-" + strings.ToUpper(uuid.NewString()[:8]),
		CustomerID:    c.CustomerID,
		FullName:      c.FullName,
		PolicyNumber:  c.PolicyNumber,
		ClaimType:     c.ClaimType,
		ClaimedAmount: c.ClaimedAmount,
		Description:   c.Description,
		Status:        types.ClaimSubmitted,
		CreatedAt:     now,
		History: []types.HistoryEvent{{
			Timestamp: now,
			Status:    types.ClaimSubmitted,
			Message:   "Claim submitted",
		}},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[rec.ID] = rec
	return copyRecord(rec), nil
}

// PushStatus sets the claim status and appends a history entry.
func (s *ClaimStore) PushStatus(
	ctx context.Context, id string, status types.ClaimStatus, message string,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.claims[id]
	if !ok {
		return fmt.Errorf("%w: %s", clients.ErrNotFound, id)
	}
	rec.Status = status
	rec.History = append(rec.History, types.HistoryEvent{
		Timestamp: time.Now().UnixMilli(),
		Status:    status,
		Message:   message,
	})
	return nil
}

// GetClaim returns a copy of a claim record.
func (s *ClaimStore) GetClaim(
	ctx context.Context, id string,
) (types.ClaimRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.ClaimRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.claims[id]
	if !ok {
		return types.ClaimRecord{}, fmt.Errorf("%w: %s", clients.ErrNotFound, id)
	}
	return copyRecord(rec), nil
}

// GetHistory returns the history of a claim, oldest first.
func (s *ClaimStore) GetHistory(
	ctx context.Context, id string,
) ([]types.HistoryEvent, error) {
	rec, err := s.GetClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.History, nil
}

// ListClaims returns all claims, newest first.
func (s *ClaimStore) ListClaims(ctx context.Context) ([]types.ClaimRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	res := make([]types.ClaimRecord, 0, len(s.claims))
	for _, rec := range s.claims {
		res = append(res, copyRecord(rec))
	}
	s.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt > res[j].CreatedAt
	})
	return res, nil
}

func copyRecord(rec *types.ClaimRecord) types.ClaimRecord {
	res := *rec
	res.History = append([]types.HistoryEvent(nil), rec.History...)
	return res
}
