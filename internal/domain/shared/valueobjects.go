package shared

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID represents a unique learner identifier (UUID format).
type UserID string

// UUID validation regex (simple version).
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsValid checks if the user ID is a valid UUID.
func (u UserID) IsValid() bool {
	return uuidRegex.MatchString(string(u))
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// IsEmpty checks if the ID is empty.
func (u UserID) IsEmpty() bool {
	return u == ""
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.ToLower(strings.TrimSpace(id)))
	if !uid.IsValid() {
		return "", NewDomainError("shared", "NewUserID", ErrInvalidID, "invalid user ID format")
	}
	return uid, nil
}

// CourseID represents a unique course identifier.
type CourseID string

// Slug format shared by course, module, lesson and assessment IDs
// (e.g., "go-fundamentals", "week02", "final-exam").
var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// IsValid checks if the course ID format is valid.
func (c CourseID) IsValid() bool {
	s := string(c)
	return len(s) >= 2 && len(s) <= 64 && slugRegex.MatchString(s)
}

// String returns the string representation.
func (c CourseID) String() string {
	return string(c)
}

// NewCourseID creates a new CourseID with validation.
func NewCourseID(id string) (CourseID, error) {
	cid := CourseID(strings.ToLower(strings.TrimSpace(id)))
	if !cid.IsValid() {
		return "", NewDomainError("shared", "NewCourseID", ErrInvalidID, "invalid course ID format")
	}
	return cid, nil
}

// ModuleID represents a module within a course.
type ModuleID string

// IsValid checks if the module ID format is valid.
func (m ModuleID) IsValid() bool {
	s := string(m)
	return len(s) >= 1 && len(s) <= 64 && slugRegex.MatchString(s)
}

// String returns the string representation.
func (m ModuleID) String() string {
	return string(m)
}

// LessonID represents a lesson within a module.
type LessonID string

// IsValid checks if the lesson ID format is valid.
func (l LessonID) IsValid() bool {
	s := string(l)
	return len(s) >= 1 && len(s) <= 64 && slugRegex.MatchString(s)
}

// String returns the string representation.
func (l LessonID) String() string {
	return string(l)
}

// AssessmentID represents a unique assessment identifier.
type AssessmentID string

// IsValid checks if the assessment ID format is valid.
func (a AssessmentID) IsValid() bool {
	s := string(a)
	return len(s) >= 2 && len(s) <= 64 && slugRegex.MatchString(s)
}

// String returns the string representation.
func (a AssessmentID) String() string {
	return string(a)
}

// ═══════════════════════════════════════════════════════════════════════════
// LessonKey Value Object
// ═══════════════════════════════════════════════════════════════════════════

// LessonKey identifies one (user, course, module, lesson) watch stream.
// Watch sessions are keyed per LessonKey; only the owning monitor instance
// mutates its own record.
type LessonKey struct {
	UserID   UserID
	CourseID CourseID
	ModuleID ModuleID
	LessonID LessonID
}

// IsValid checks that every component of the key is present and well formed.
func (k LessonKey) IsValid() bool {
	return k.UserID != "" && k.CourseID.IsValid() && k.ModuleID.IsValid() && k.LessonID.IsValid()
}

// String returns a stable string form, usable as a map or cache key.
func (k LessonKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.UserID, k.CourseID, k.ModuleID, k.LessonID)
}

// ═══════════════════════════════════════════════════════════════════════════
// Percentage Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Percentage represents a 0-100 value, clamped at construction.
type Percentage float64

const (
	MinPercentage Percentage = 0
	MaxPercentage Percentage = 100
)

// IsValid checks if the percentage is within valid range.
func (p Percentage) IsValid() bool {
	return p >= MinPercentage && p <= MaxPercentage
}

// Float64 returns the underlying float64 value.
func (p Percentage) Float64() float64 {
	return float64(p)
}

// AtLeast checks the percentage against a threshold.
func (p Percentage) AtLeast(threshold Percentage) bool {
	return p >= threshold
}

// NewPercentage creates a Percentage clamped into [0, 100].
func NewPercentage(value float64) Percentage {
	if value < float64(MinPercentage) {
		return MinPercentage
	}
	if value > float64(MaxPercentage) {
		return MaxPercentage
	}
	return Percentage(value)
}

// Ratio creates a Percentage from a watched/total ratio.
// A non-positive total yields 0 rather than a division error.
func Ratio(part, total float64) Percentage {
	if total <= 0 {
		return MinPercentage
	}
	return NewPercentage(part / total * 100)
}

// ═══════════════════════════════════════════════════════════════════════════
// Score Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Score represents an assessment score (0-100).
type Score int

const (
	MinScore Score = 0
	MaxScore Score = 100
)

// IsValid checks if the score is within valid range.
func (s Score) IsValid() bool {
	return s >= MinScore && s <= MaxScore
}

// Int returns the underlying int value.
func (s Score) Int() int {
	return int(s)
}

// Passed checks the score against a passing threshold.
func (s Score) Passed(passingScore Score) bool {
	return s >= passingScore
}

// NewScore creates a new Score with validation.
func NewScore(value int) (Score, error) {
	if value < int(MinScore) || value > int(MaxScore) {
		return 0, NewDomainError("shared", "NewScore", ErrValueOutOfRange, "score must be between 0 and 100")
	}
	return Score(value), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// TimeRange Value Object
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange represents a time period.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsValid checks if the time range is valid.
func (t TimeRange) IsValid() bool {
	return !t.From.IsZero() && !t.To.IsZero() && !t.From.After(t.To)
}

// Duration returns the duration of the time range.
func (t TimeRange) Duration() time.Duration {
	return t.To.Sub(t.From)
}

// Contains checks if a time is within the range.
func (t TimeRange) Contains(tm time.Time) bool {
	return (tm.Equal(t.From) || tm.After(t.From)) && (tm.Equal(t.To) || tm.Before(t.To))
}

// NewTimeRange creates a new TimeRange with validation.
func NewTimeRange(from, to time.Time) (TimeRange, error) {
	tr := TimeRange{From: from, To: to}
	if !tr.IsValid() {
		return TimeRange{}, NewDomainError("shared", "NewTimeRange", ErrInvalidInput, "'from' must be before 'to'")
	}
	return tr, nil
}
