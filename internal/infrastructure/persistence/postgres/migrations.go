// Package postgres implements the PostgreSQL persistence layer for the integrity engine.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE WATCH SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create watch_sessions table
-- Version: 001

-- One row per (user, lesson) viewing session. The row is upserted by every
-- heartbeat; watched_seconds and status only ever move forward.
CREATE TABLE IF NOT EXISTS watch_sessions (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL,
    course_id VARCHAR(64) NOT NULL,
    module_id VARCHAR(64) NOT NULL,
    lesson_id VARCHAR(64) NOT NULL,
    start_time TIMESTAMP WITH TIME ZONE NOT NULL,
    end_time TIMESTAMP WITH TIME ZONE,
    watched_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_seconds DOUBLE PRECISION NOT NULL,
    percentage_watched DECIMAL(5,2) NOT NULL DEFAULT 0,
    status VARCHAR(20) NOT NULL DEFAULT 'not-started',
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    last_heartbeat_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_status CHECK (status IN ('not-started', 'in-progress', 'completed')),
    CONSTRAINT valid_watched CHECK (watched_seconds >= 0),
    CONSTRAINT valid_total CHECK (total_seconds > 0),
    CONSTRAINT valid_percentage CHECK (percentage_watched >= 0 AND percentage_watched <= 100),

    CONSTRAINT uniq_watch_stream UNIQUE (user_id, course_id, module_id, lesson_id)
);

CREATE INDEX IF NOT EXISTS idx_watch_sessions_user ON watch_sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_watch_sessions_user_course ON watch_sessions(user_id, course_id);
CREATE INDEX IF NOT EXISTS idx_watch_sessions_heartbeat ON watch_sessions(last_heartbeat_at);
CREATE INDEX IF NOT EXISTS idx_watch_sessions_completed ON watch_sessions(course_id, lesson_id) WHERE completed;
`

const migration001Down = `
DROP TABLE IF EXISTS watch_sessions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE ATTENTION EVENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create attention_events table
-- Version: 002

-- Append-only audit log of classified attention events. Rows arrive in
-- heartbeat batches and are never updated or reordered.
CREATE TABLE IF NOT EXISTS attention_events (
    id BIGSERIAL PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES watch_sessions(id) ON DELETE CASCADE,
    event_type VARCHAR(30) NOT NULL,
    details TEXT NOT NULL DEFAULT '',
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_event_type CHECK (
        event_type IN ('heartbeat', 'inactivity', 'tab_switch', 'fast_forward', 'activity_resumed')
    )
);

CREATE INDEX IF NOT EXISTS idx_attention_events_session ON attention_events(session_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_attention_events_type ON attention_events(event_type, occurred_at);
`

const migration002Down = `
DROP TABLE IF EXISTS attention_events;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE ASSESSMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create assessment answer keys and results
-- Version: 003

-- Server-held answer keys. Correct answers never leave this table; grading
-- happens here, not on the client.
CREATE TABLE IF NOT EXISTS assessment_questions (
    assessment_id VARCHAR(64) NOT NULL,
    question_id VARCHAR(64) NOT NULL,
    position INTEGER NOT NULL,
    correct_answer INTEGER NOT NULL,
    option_count INTEGER NOT NULL DEFAULT 4,

    CONSTRAINT valid_position CHECK (position >= 0),
    CONSTRAINT valid_correct CHECK (correct_answer >= 0),
    PRIMARY KEY (assessment_id, question_id)
);

CREATE INDEX IF NOT EXISTS idx_assessment_questions_order ON assessment_questions(assessment_id, position);

-- Per-assessment passing score. Falls back to the engine default when absent.
CREATE TABLE IF NOT EXISTS assessment_config (
    assessment_id VARCHAR(64) PRIMARY KEY,
    passing_score INTEGER NOT NULL DEFAULT 75,

    CONSTRAINT valid_passing_score CHECK (passing_score >= 0 AND passing_score <= 100)
);

-- One row per graded submission. An unanswered question arrives as -1 and
-- is graded as incorrect.
CREATE TABLE IF NOT EXISTS assessment_results (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL,
    course_id VARCHAR(64) NOT NULL,
    assessment_id VARCHAR(64) NOT NULL,
    score INTEGER NOT NULL,
    passed BOOLEAN NOT NULL,
    correct_answers INTEGER NOT NULL,
    total_questions INTEGER NOT NULL,
    answers JSONB NOT NULL,
    submitted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_score CHECK (score >= 0 AND score <= 100),
    CONSTRAINT valid_counts CHECK (correct_answers >= 0 AND correct_answers <= total_questions)
);

CREATE INDEX IF NOT EXISTS idx_assessment_results_user ON assessment_results(user_id, assessment_id, submitted_at DESC);
CREATE INDEX IF NOT EXISTS idx_assessment_results_assessment ON assessment_results(assessment_id) WHERE passed;
`

const migration003Down = `
DROP TABLE IF EXISTS assessment_results;
DROP TABLE IF EXISTS assessment_config;
DROP TABLE IF EXISTS assessment_questions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: CREATE QUOTA STATE
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
-- Migration: Create quota_state table
-- Version: 004

-- Durable fallback for the AI-chat quota when Redis is not deployed.
-- window_requests holds admitted timestamps; total_usage never resets.
CREATE TABLE IF NOT EXISTS quota_state (
    subject_id VARCHAR(128) PRIMARY KEY,
    window_requests JSONB NOT NULL DEFAULT '[]'::jsonb,
    total_usage INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_total_usage CHECK (total_usage >= 0)
);
`

const migration004Down = `
DROP TABLE IF EXISTS quota_state;
`
