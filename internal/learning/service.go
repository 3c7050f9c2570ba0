// Package learning records what was learned from executed SQL statements and
// answers history, search and suggestion queries over those notes.
package learning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
)

// Defaults applied when a limit is not positive
const (
	DefaultHistoryLimit    = 50
	DefaultSearchLimit     = 50
	DefaultSuggestionLimit = 5
	DefaultPatternLimit    = 20
)

var (
	// ErrInvalidInput wraps validation failures of operation arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidDate is returned when a date filter is not ISO-8601.
	ErrInvalidDate = errors.New("invalid date")
)

type (
	// Observer is notified after a note has been persisted.
	Observer interface {
		NoteSaved(note Note)
	}

	// ObserverFunc adapts a function to Observer.
	ObserverFunc func(note Note)

	Option func(*Service)

	// Service is the query learning store. Reads are full scans of the
	// persisted sequence; appends are serialised so no note is lost when
	// callers save concurrently.
	Service struct {
		store     Store
		validator *validator.Validate
		now       func() time.Time
		observers []Observer

		mu sync.Mutex
	}

	ListOptions struct {
		Limit       int    `json:"limit" validate:"gte=0"`
		Offset      int    `json:"offset" validate:"gte=0"`
		QueryType   string `json:"query_type"`
		SuccessOnly bool   `json:"success_only"`
	}

	Pagination struct {
		Total   int  `json:"total"`
		Offset  int  `json:"offset"`
		Limit   int  `json:"limit"`
		HasMore bool `json:"has_more"`
	}

	HistoryStats struct {
		SuccessRate      float64        `json:"success_rate"`
		AvgExecutionTime float64        `json:"avg_execution_time"`
		CountByType      map[string]int `json:"count_by_type"`
	}

	History struct {
		Notes      []Note       `json:"notes"`
		Pagination Pagination   `json:"pagination"`
		Stats      HistoryStats `json:"stats"`
	}

	// SearchOptions selects notes. Zero values disable a criterion.
	//
	// MinSuccessRate is accepted for compatibility with existing callers but
	// does not filter anything: a single note has no success rate.
	SearchOptions struct {
		SearchTerm       string   `json:"search_term"`
		Tags             []string `json:"tags"`
		MinSuccessRate   *float64 `json:"min_success_rate"`
		MaxExecutionTime *float64 `json:"max_execution_time"`
		DateFrom         string   `json:"date_from"`
		DateTo           string   `json:"date_to"`
		Limit            int      `json:"limit"`
	}

	Suggestion struct {
		Query          string    `json:"query"`
		ExecutionTime  float64   `json:"execution_time"`
		RowsAffected   int64     `json:"rows_affected"`
		CreatedAt      Timestamp `json:"created_at"`
		Note           string    `json:"note"`
		Tags           []string  `json:"tags"`
		RelevanceScore int       `json:"relevance_score"`
	}

	SuggestionStats struct {
		TotalMatches     int     `json:"total_matches"`
		AvgExecutionTime float64 `json:"avg_execution_time"`
	}

	Suggestions struct {
		Suggestions []Suggestion     `json:"suggestions"`
		Stats       *SuggestionStats `json:"stats,omitempty"`
		Message     string           `json:"message,omitempty"`
	}
)

// NoSuggestionsMessage is reported when no successful note exists yet.
const NoSuggestionsMessage = "no previous successful queries to build suggestions from"

func (f ObserverFunc) NoteSaved(note Note) { f(note) }

// WithObserver registers an observer called after every successful save.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observers = append(s.observers, o) }
}

// WithClock replaces the clock used to stamp new notes.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		validator: validator.New(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveNote creates a note from in and appends it to the store.
func (s *Service) SaveNote(ctx context.Context, in NoteInput) (Note, error) {
	if err := s.validator.Struct(in); err != nil {
		return Note{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	queryType := in.QueryType
	if queryType == "" {
		queryType = InferQueryType(in.Query)
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return Note{}, fmt.Errorf("failed to generate note id: %w", err)
	}

	note := Note{
		ID:            id.String(),
		Query:         in.Query,
		QueryType:     queryType,
		ExecutionTime: in.ExecutionTime,
		RowsAffected:  in.RowsAffected,
		Success:       in.Success,
		Note:          in.Note,
		Tags:          tags,
		CreatedAt:     Timestamp{s.now().UTC().Truncate(time.Microsecond)},
		Complexity:    ClassifyComplexity(in.Query),
	}

	if err := s.store.Append(ctx, note); err != nil {
		return Note{}, fmt.Errorf("failed to save note: %w", err)
	}
	log.Debugf("learning: saved note %s (%s, %s)", note.ID, note.QueryType, note.Complexity)

	for _, o := range s.observers {
		o.NoteSaved(note)
	}
	return note, nil
}

// ListNotes returns a page of notes, newest first, with statistics over every
// note matching the filters.
func (s *Service) ListNotes(ctx context.Context, opts ListOptions) (*History, error) {
	if err := s.validator.Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	notes, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]Note, 0, len(notes))
	for _, n := range notes {
		if opts.QueryType != "" && n.QueryType != opts.QueryType {
			continue
		}
		if opts.SuccessOnly && !n.Success {
			continue
		}
		filtered = append(filtered, n)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt.Time)
	})

	total := len(filtered)
	start := min(opts.Offset, total)
	end := min(start+opts.Limit, total)

	history := &History{
		Notes: append([]Note{}, filtered[start:end]...),
		Pagination: Pagination{
			Total:   total,
			Offset:  opts.Offset,
			Limit:   opts.Limit,
			HasMore: opts.Offset+opts.Limit < total,
		},
		Stats: HistoryStats{CountByType: map[string]int{}},
	}

	if total > 0 {
		successes := 0
		var elapsed float64
		for _, n := range filtered {
			if n.Success {
				successes++
			}
			elapsed += n.ExecutionTime
			history.Stats.CountByType[n.QueryType]++
		}
		history.Stats.SuccessRate = float64(successes) / float64(total)
		history.Stats.AvgExecutionTime = elapsed / float64(total)
	}

	return history, nil
}

// SearchNotes scans notes in insertion order and returns the first matches,
// up to opts.Limit. Results are not ranked.
func (s *Service) SearchNotes(ctx context.Context, opts SearchOptions) ([]Note, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var from, to *time.Time
	if opts.DateFrom != "" {
		t, err := ParseTimestamp(opts.DateFrom)
		if err != nil {
			return nil, fmt.Errorf("%w: date_from: %v", ErrInvalidDate, err)
		}
		from = &t
	}
	if opts.DateTo != "" {
		t, err := ParseTimestamp(opts.DateTo)
		if err != nil {
			return nil, fmt.Errorf("%w: date_to: %v", ErrInvalidDate, err)
		}
		to = &t
	}

	notes, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	term := strings.ToLower(opts.SearchTerm)
	results := []Note{}
	for _, n := range notes {
		if term != "" &&
			!strings.Contains(strings.ToLower(n.Query), term) &&
			!strings.Contains(strings.ToLower(n.Note), term) {
			continue
		}
		if len(opts.Tags) > 0 && !hasAllTags(n.Tags, opts.Tags) {
			continue
		}
		if opts.MaxExecutionTime != nil && n.ExecutionTime > *opts.MaxExecutionTime {
			continue
		}
		if from != nil && n.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && n.CreatedAt.After(*to) {
			continue
		}

		results = append(results, n)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Suggest ranks successful notes by how well they match fragment and the
// optional context. Ties go to the faster query.
func (s *Service) Suggest(ctx context.Context, fragment, context string, limit int) (*Suggestions, error) {
	if limit <= 0 {
		limit = DefaultSuggestionLimit
	}

	notes, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	successful := make([]Note, 0, len(notes))
	for _, n := range notes {
		if n.Success {
			successful = append(successful, n)
		}
	}
	if len(successful) == 0 {
		return &Suggestions{Suggestions: []Suggestion{}, Message: NoSuggestionsMessage}, nil
	}

	type scored struct {
		note  Note
		score int
	}

	fragment = strings.ToLower(fragment)
	contextLower := strings.ToLower(context)

	matches := make([]scored, 0, len(successful))
	for _, n := range successful {
		query := strings.ToLower(n.Query)
		text := strings.ToLower(n.Note)

		score := 0
		if strings.Contains(query, fragment) {
			score += 3
		}
		if strings.Contains(text, fragment) {
			score++
		}
		if context != "" && strings.Contains(text, contextLower) {
			score += 2
		}
		if score > 0 {
			matches = append(matches, scored{note: n, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].note.ExecutionTime < matches[j].note.ExecutionTime
	})

	top := matches[:min(limit, len(matches))]

	result := &Suggestions{
		Suggestions: make([]Suggestion, 0, len(top)),
		Stats:       &SuggestionStats{TotalMatches: len(matches)},
	}
	var elapsed float64
	for _, m := range top {
		result.Suggestions = append(result.Suggestions, Suggestion{
			Query:          m.note.Query,
			ExecutionTime:  m.note.ExecutionTime,
			RowsAffected:   m.note.RowsAffected,
			CreatedAt:      m.note.CreatedAt,
			Note:           m.note.Note,
			Tags:           m.note.Tags,
			RelevanceScore: m.score,
		})
		elapsed += m.note.ExecutionTime
	}
	if len(top) > 0 {
		result.Stats.AvgExecutionTime = elapsed / float64(len(top))
	}
	return result, nil
}

// Close releases the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}
