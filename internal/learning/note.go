package learning

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Query types recorded on a note
const (
	QueryTypeSelect = "SELECT"
	QueryTypeInsert = "INSERT"
	QueryTypeUpdate = "UPDATE"
	QueryTypeDelete = "DELETE"
	QueryTypeOther  = "OTHER"
)

// Complexity classes
const (
	ComplexitySimple  = "simple"
	ComplexityMedium  = "medium"
	ComplexityComplex = "complex"
)

type (
	// Note is one learning record about an executed SQL statement.
	// Notes are append-only: they are never modified once saved.
	Note struct {
		ID            string    `json:"id"`
		Query         string    `json:"query"`
		QueryType     string    `json:"query_type"`
		ExecutionTime float64   `json:"execution_time"`
		RowsAffected  int64     `json:"rows_affected"`
		Success       bool      `json:"success"`
		Note          string    `json:"note"`
		Tags          []string  `json:"tags"`
		CreatedAt     Timestamp `json:"created_at"`
		Complexity    string    `json:"complexity"`
	}

	// NoteInput carries the caller supplied fields of a new note.
	NoteInput struct {
		Query         string   `json:"query" validate:"required"`
		ExecutionTime float64  `json:"execution_time"`
		RowsAffected  int64    `json:"rows_affected"`
		Success       bool     `json:"success"`
		Note          string   `json:"note"`
		Tags          []string `json:"tags"`
		QueryType     string   `json:"query_type"`
	}

	// Timestamp is a time encoded as ISO-8601 in JSON.
	Timestamp struct {
		time.Time
	}
)

const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// naive layouts are interpreted in local time
var (
	zonedLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04Z07:00"}
	naiveLayouts = []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04", "2006-01-02 15:04:05.999999999", "2006-01-02"}
)

// ParseTimestamp parses an ISO-8601 date or date-time. Values without a zone
// are taken as local time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not an ISO-8601 timestamp: %q", s)
}

func (t Timestamp) String() string {
	return t.Time.Format(timestampLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// InferQueryType maps the leading keyword of query to a query type.
func InferQueryType(query string) string {
	upper := strings.ToUpper(strings.TrimSpace(query))
	for _, qt := range []string{QueryTypeSelect, QueryTypeInsert, QueryTypeUpdate, QueryTypeDelete} {
		if strings.HasPrefix(upper, qt) {
			return qt
		}
	}
	return QueryTypeOther
}

var aggregateFuncs = []string{"COUNT(", "SUM(", "AVG(", "MAX(", "MIN("}

// ComplexityScore is the keyword based score behind ClassifyComplexity.
// Keywords are matched space padded, so a JOIN at the very start or end of
// the text does not count.
func ComplexityScore(query string) int {
	upper := strings.ToUpper(strings.TrimSpace(query))

	score := 2 * strings.Count(upper, " JOIN ")

	if strings.Contains(query, "(") && strings.Contains(upper, "SELECT") {
		score += 3 * (strings.Count(upper, "SELECT") - 1)
	}

	if strings.Contains(upper, " GROUP BY ") {
		score++
	}
	if strings.Contains(upper, " ORDER BY ") {
		score++
	}

	for _, fn := range aggregateFuncs {
		if strings.Contains(upper, fn) {
			score++
		}
	}
	return score
}

// ClassifyComplexity buckets a query into simple (<=2), medium (3-5) or complex (>5).
func ClassifyComplexity(query string) string {
	switch score := ComplexityScore(query); {
	case score <= 2:
		return ComplexitySimple
	case score <= 5:
		return ComplexityMedium
	default:
		return ComplexityComplex
	}
}

func hasAllTags(have []string, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
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
