package moodtrace

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrPersistence  = errors.New("persistence failure")
)

// TempIDPrefix marks client-assigned identifiers that have not been confirmed
// by the authoritative store. NewEntryID never produces ids with this prefix.
const TempIDPrefix = "tmp_"

const entryIDPrefix = "mood_"

type Category string

const (
	CategoryCalm      Category = "calm"
	CategoryHappy     Category = "happy"
	CategoryEnergetic Category = "energetic"
	CategoryAnxious   Category = "anxious"
	CategoryTired     Category = "tired"
	CategoryFocused   Category = "focused"
	CategoryStressed  Category = "stressed"
	CategoryGrateful  Category = "grateful"
)

// Categories lists every known category in presentation order.
func Categories() []Category {
	return []Category{
		CategoryCalm,
		CategoryHappy,
		CategoryEnergetic,
		CategoryAnxious,
		CategoryTired,
		CategoryFocused,
		CategoryStressed,
		CategoryGrateful,
	}
}

func ValidCategory(c Category) bool {
	switch c {
	case CategoryCalm, CategoryHappy, CategoryEnergetic, CategoryAnxious,
		CategoryTired, CategoryFocused, CategoryStressed, CategoryGrateful:
		return true
	}
	return false
}

const (
	MinLevel = 1
	MaxLevel = 5
)

type Entry struct {
	ID        string   `json:"id"`
	Category  Category `json:"category"`
	Level     int      `json:"level"`
	Note      string   `json:"note,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// IsPending reports whether the entry still carries a temporary identity.
func (e Entry) IsPending() bool {
	return strings.HasPrefix(e.ID, TempIDPrefix)
}

// NewEntryID assigns a permanent identifier. The temp prefix is reserved for
// client-side pending entries and can never collide with these.
func NewEntryID() string {
	return entryIDPrefix + uuid.NewString()
}

// NewTempID assigns a client-side temporary identifier.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// EntryFields carries the mutable fields of an entry. Nil pointers are
// untouched by Update.
type EntryFields struct {
	Category  *Category `json:"category,omitempty"`
	Level     *int      `json:"level,omitempty"`
	Note      *string   `json:"note,omitempty"`
	Timestamp *int64    `json:"timestamp,omitempty"`
}

func (f EntryFields) Validate() error {
	if f.Category != nil && !ValidCategory(*f.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, *f.Category)
	}
	if f.Level != nil && (*f.Level < MinLevel || *f.Level > MaxLevel) {
		return fmt.Errorf("%w: level %d out of range", ErrInvalidInput, *f.Level)
	}
	return nil
}

// Filter selects a subset of entries. All set fields apply conjunctively;
// range bounds are inclusive; zero values mean unset.
type Filter struct {
	StartDate  int64      `json:"startDate,omitempty"`
	EndDate    int64      `json:"endDate,omitempty"`
	Categories []Category `json:"categories,omitempty"`
	Levels     []int      `json:"levels,omitempty"`
}

func (f Filter) Matches(e Entry) bool {
	if f.StartDate != 0 && e.Timestamp < f.StartDate {
		return false
	}
	if f.EndDate != 0 && e.Timestamp > f.EndDate {
		return false
	}
	if len(f.Categories) > 0 {
		found := false
		for _, c := range f.Categories {
			if c == e.Category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Levels) > 0 {
		found := false
		for _, l := range f.Levels {
			if l == e.Level {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type Stats struct {
	AverageLevel float64          `json:"averageLevel"`
	Count        int              `json:"count"`
	ByCategory   map[Category]int `json:"byCategory"`
}

// APIError mirrors the failure surface of a remote backend. Status 0 denotes
// an unreachable backend.
type APIError struct {
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
	Message    string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.StatusText, e.Message)
	}
	return fmt.Sprintf("api %d %s", e.Status, e.StatusText)
}

func (e *APIError) Is(target error) bool {
	if target == ErrNotFound {
		return e.Status == 404
	}
	return false
}

// Unreachable reports whether the error represents a transport-level failure
// that a read path may retry.
func (e *APIError) Unreachable() bool {
	return e.Status == 0
}

func NotFoundError(id string) *APIError {
	return &APIError{Status: 404, StatusText: "Not Found", Message: fmt.Sprintf("entry %s not found", id)}
}

func UnreachableError(cause error) *APIError {
	msg := "backend unreachable"
	if cause != nil {
		msg = cause.Error()
	}
	return &APIError{Status: 0, StatusText: "Unreachable", Message: msg}
}

// IsTransport reports whether err is a status-0 APIError.
func IsTransport(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Unreachable()
}

// NowMillis is the timestamp convention used across the module.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// DayBounds returns the inclusive [00:00:00.000, 23:59:59.999] range of the
// calendar day containing t, in t's location, as epoch milliseconds.
func DayBounds(t time.Time) (int64, int64) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	// Derive the end from the next calendar midnight rather than adding a
	// fixed 24h, which is wrong on DST-transition days.
	next := time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
	return start.UnixMilli(), next.UnixMilli() - 1
}
