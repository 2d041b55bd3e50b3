package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lumenlms/integrity-engine/internal/domain/quota"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUOTA STORE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// QuotaStore implements quota.Store for PostgreSQL. It is the durable
// fallback when Redis is not deployed; the window timestamps ride in a
// JSONB column since the window cap keeps them tiny.
type QuotaStore struct {
	conn *Connection
}

// NewQuotaStore creates a new QuotaStore.
func NewQuotaStore(conn *Connection) *QuotaStore {
	return &QuotaStore{conn: conn}
}

// Load implements quota.Store.
func (s *QuotaStore) Load(ctx context.Context, subjectID string) (*quota.State, error) {
	query := `
		SELECT window_requests, total_usage
		FROM quota_state
		WHERE subject_id = $1
	`

	var (
		windowJSON []byte
		totalUsage int
	)
	err := s.conn.QueryRow(ctx, query, subjectID).Scan(&windowJSON, &totalUsage)
	if err != nil {
		if IsNoRows(err) {
			return quota.NewState(subjectID), nil
		}
		return nil, fmt.Errorf("load quota state: %w", err)
	}

	var window []time.Time
	if err := json.Unmarshal(windowJSON, &window); err != nil {
		return nil, fmt.Errorf("unmarshal quota window: %w", err)
	}

	return &quota.State{
		SubjectID:      subjectID,
		WindowRequests: window,
		TotalUsage:     totalUsage,
	}, nil
}

// Save implements quota.Store. Last write wins: concurrent tabs race with
// at most one extra admitted request per burst, which the quota design
// tolerates.
func (s *QuotaStore) Save(ctx context.Context, state *quota.State) error {
	window := state.WindowRequests
	if window == nil {
		window = []time.Time{}
	}
	windowJSON, err := json.Marshal(window)
	if err != nil {
		return fmt.Errorf("marshal quota window: %w", err)
	}

	query := `
		INSERT INTO quota_state (subject_id, window_requests, total_usage, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (subject_id) DO UPDATE SET
			window_requests = EXCLUDED.window_requests,
			total_usage = GREATEST(quota_state.total_usage, EXCLUDED.total_usage),
			updated_at = NOW()
	`
	if _, err := s.conn.Exec(ctx, query, state.SubjectID, windowJSON, state.TotalUsage); err != nil {
		return fmt.Errorf("save quota state: %w", err)
	}
	return nil
}
