package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lumenlms/integrity-engine/internal/domain/attention"
	"github.com/lumenlms/integrity-engine/internal/domain/progress"
	"github.com/lumenlms/integrity-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// WATCH REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// WatchRepository implements progress.HeartbeatSink and progress.Repository
// for PostgreSQL. The completion threshold is re-applied here, server-side:
// the persisted percentage and status are authoritative regardless of what
// the client computed.
type WatchRepository struct {
	conn      *Connection
	threshold shared.Percentage
}

// NewWatchRepository creates a new WatchRepository. A non-positive threshold
// falls back to the engine default.
func NewWatchRepository(conn *Connection, threshold shared.Percentage) *WatchRepository {
	if threshold <= 0 || threshold > shared.MaxPercentage {
		threshold = progress.DefaultCompletionThreshold
	}
	return &WatchRepository{conn: conn, threshold: threshold}
}

// RecordHeartbeat upserts the watch session and appends the heartbeat's
// buffered events in one transaction. Watched time and status only move
// forward: a concurrent or replayed heartbeat with a lower position cannot
// regress the stored row.
func (r *WatchRepository) RecordHeartbeat(ctx context.Context, hb progress.Heartbeat) (progress.Ack, error) {
	if !hb.Key.IsValid() {
		return progress.Ack{}, shared.NewDomainError("postgres", "RecordHeartbeat", shared.ErrInvalidID, "invalid lesson key")
	}

	var ack progress.Ack
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO watch_sessions (
				id, user_id, course_id, module_id, lesson_id,
				start_time, watched_seconds, total_seconds,
				percentage_watched, status, completed, last_heartbeat_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8,
				LEAST(100, $7 / $8 * 100),
				CASE WHEN $7 / $8 * 100 >= $9 THEN 'completed'
				     WHEN $7 > 0 THEN 'in-progress'
				     ELSE 'not-started' END,
				$7 / $8 * 100 >= $9, $10, $10
			)
			ON CONFLICT ON CONSTRAINT uniq_watch_stream DO UPDATE SET
				watched_seconds = GREATEST(watch_sessions.watched_seconds, EXCLUDED.watched_seconds),
				percentage_watched = LEAST(100, GREATEST(watch_sessions.watched_seconds, EXCLUDED.watched_seconds) / watch_sessions.total_seconds * 100),
				completed = watch_sessions.completed
					OR GREATEST(watch_sessions.watched_seconds, EXCLUDED.watched_seconds) / watch_sessions.total_seconds * 100 >= $9,
				status = CASE
					WHEN watch_sessions.completed
						OR GREATEST(watch_sessions.watched_seconds, EXCLUDED.watched_seconds) / watch_sessions.total_seconds * 100 >= $9
						THEN 'completed'
					WHEN GREATEST(watch_sessions.watched_seconds, EXCLUDED.watched_seconds) > 0 THEN 'in-progress'
					ELSE watch_sessions.status END,
				last_heartbeat_at = EXCLUDED.last_heartbeat_at,
				updated_at = EXCLUDED.updated_at
			RETURNING id, percentage_watched, status
		`

		var (
			sessionID string
			pct       float64
			status    string
		)
		err := tx.QueryRow(ctx, query,
			hb.SessionID,
			hb.Key.UserID.String(),
			hb.Key.CourseID.String(),
			hb.Key.ModuleID.String(),
			hb.Key.LessonID.String(),
			hb.SentAt,
			hb.CurrentTime.Seconds(),
			hb.TotalDuration.Seconds(),
			r.threshold.Float64(),
			hb.SentAt,
		).Scan(&sessionID, &pct, &status)
		if err != nil {
			return fmt.Errorf("upsert watch session: %w", err)
		}

		if err := r.insertEvents(ctx, tx, sessionID, hb.Buffered); err != nil {
			return err
		}

		ack = progress.Ack{
			Success:           true,
			PercentageWatched: shared.NewPercentage(pct),
			Status:            progress.Status(status),
		}
		return nil
	})
	if err != nil {
		return progress.Ack{}, shared.WrapError("postgres", "RecordHeartbeat", shared.ErrExternalService, "record heartbeat", err)
	}
	return ack, nil
}

// insertEvents appends a heartbeat's buffered events in their arrival order.
func (r *WatchRepository) insertEvents(ctx context.Context, tx pgx.Tx, sessionID string, events []attention.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO attention_events (session_id, event_type, details, occurred_at)
		VALUES ($1, $2, $3, $4)
	`
	for _, ev := range events {
		batch.Queue(query, sessionID, string(ev.Type), ev.Details, ev.Timestamp)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert attention event: %w", err)
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Query Surface
// ─────────────────────────────────────────────────────────────────────────────

// GetSession returns the watch session for a lesson key, if any.
func (r *WatchRepository) GetSession(ctx context.Context, key shared.LessonKey) (*progress.WatchSession, error) {
	query := `
		SELECT id, user_id, course_id, module_id, lesson_id,
			   start_time, end_time, watched_seconds, total_seconds, status, completed
		FROM watch_sessions
		WHERE user_id = $1 AND course_id = $2 AND module_id = $3 AND lesson_id = $4
	`

	row := r.conn.QueryRow(ctx, query,
		key.UserID.String(), key.CourseID.String(), key.ModuleID.String(), key.LessonID.String())

	session, err := scanWatchSession(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get watch session: %w", err)
	}
	return session, nil
}

// GetSessionsByUser returns all watch sessions for a user within a time range.
func (r *WatchRepository) GetSessionsByUser(ctx context.Context, userID shared.UserID, from, to time.Time) ([]*progress.WatchSession, error) {
	query := `
		SELECT id, user_id, course_id, module_id, lesson_id,
			   start_time, end_time, watched_seconds, total_seconds, status, completed
		FROM watch_sessions
		WHERE user_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time
	`

	rows, err := r.conn.Query(ctx, query, userID.String(), from, to)
	if err != nil {
		return nil, fmt.Errorf("query watch sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*progress.WatchSession
	for rows.Next() {
		session, err := scanWatchSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watch session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// GetCourseCompletion returns per-lesson completion status for a user and course.
func (r *WatchRepository) GetCourseCompletion(ctx context.Context, userID shared.UserID, courseID shared.CourseID) (map[shared.LessonID]progress.Status, error) {
	query := `
		SELECT lesson_id, status
		FROM watch_sessions
		WHERE user_id = $1 AND course_id = $2
	`

	rows, err := r.conn.Query(ctx, query, userID.String(), courseID.String())
	if err != nil {
		return nil, fmt.Errorf("query course completion: %w", err)
	}
	defer rows.Close()

	completion := make(map[shared.LessonID]progress.Status)
	for rows.Next() {
		var lessonID, status string
		if err := rows.Scan(&lessonID, &status); err != nil {
			return nil, fmt.Errorf("scan completion row: %w", err)
		}
		completion[shared.LessonID(lessonID)] = progress.Status(status)
	}
	return completion, rows.Err()
}

// GetSessionEvents returns the ordered event log for a viewing session.
func (r *WatchRepository) GetSessionEvents(ctx context.Context, sessionID string) ([]attention.Event, error) {
	query := `
		SELECT event_type, details, occurred_at
		FROM attention_events
		WHERE session_id = $1
		ORDER BY occurred_at, id
	`

	rows, err := r.conn.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query attention events: %w", err)
	}
	defer rows.Close()

	var events []attention.Event
	for rows.Next() {
		var (
			eventType, details string
			occurredAt         time.Time
		)
		if err := rows.Scan(&eventType, &details, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan attention event: %w", err)
		}
		events = append(events, attention.NewEvent(attention.EventType(eventType), details, occurredAt))
	}
	return events, rows.Err()
}

// scanWatchSession scans one watch_sessions row.
func scanWatchSession(row pgx.Row) (*progress.WatchSession, error) {
	var (
		s                       progress.WatchSession
		userID                  string
		courseID                string
		moduleID                string
		lessonID                string
		endTime                 *time.Time
		watchedSecs, totalSecs  float64
		status                  string
	)

	err := row.Scan(&s.ID, &userID, &courseID, &moduleID, &lessonID,
		&s.StartTime, &endTime, &watchedSecs, &totalSecs, &status, &s.Completed)
	if err != nil {
		return nil, err
	}

	s.Key = shared.LessonKey{
		UserID:   shared.UserID(userID),
		CourseID: shared.CourseID(courseID),
		ModuleID: shared.ModuleID(moduleID),
		LessonID: shared.LessonID(lessonID),
	}
	s.EndTime = endTime
	s.WatchedDuration = time.Duration(watchedSecs * float64(time.Second))
	s.TotalDuration = time.Duration(totalSecs * float64(time.Second))
	s.Status = progress.Status(status)
	return &s, nil
}
