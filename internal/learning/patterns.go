package learning

import (
	"context"
	"fmt"
	"sort"

	"github.com/kaz/mcpsql/internal/slowlog"
)

// TagSlowLog is attached to every note imported from a slow log.
const TagSlowLog = "slowlog"

type (
	// PatternStats aggregates the notes whose queries share a fingerprint.
	PatternStats struct {
		Pattern          string    `json:"pattern"`
		Count            int       `json:"count"`
		SuccessRate      float64   `json:"success_rate"`
		TotalTime        float64   `json:"total_time"`
		AvgExecutionTime float64   `json:"avg_execution_time"`
		MinExecutionTime float64   `json:"min_execution_time"`
		MaxExecutionTime float64   `json:"max_execution_time"`
		RowsAffected     int64     `json:"rows_affected"`
		Example          string    `json:"example"`
		FirstSeen        Timestamp `json:"first_seen"`
		LastSeen         Timestamp `json:"last_seen"`
	}

	ImportOptions struct {
		Threshold float64  `json:"threshold" validate:"gte=0"`
		Tags      []string `json:"tags"`
	}

	ImportResult struct {
		Parsed   int    `json:"parsed"`
		Imported int    `json:"imported"`
		Skipped  int    `json:"skipped"`
		Notes    []Note `json:"notes"`
	}
)

// Patterns groups every note by query fingerprint, heaviest total time first.
func (s *Service) Patterns(ctx context.Context, limit int) ([]PatternStats, error) {
	if limit <= 0 {
		limit = DefaultPatternLimit
	}

	notes, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	byPattern := make(map[string]*PatternStats)
	successes := make(map[string]int)
	for _, n := range notes {
		fp := slowlog.Fingerprint(n.Query)
		p, ok := byPattern[fp]
		if !ok {
			p = &PatternStats{
				Pattern:          fp,
				Example:          n.Query,
				MinExecutionTime: n.ExecutionTime,
				FirstSeen:        n.CreatedAt,
				LastSeen:         n.CreatedAt,
			}
			byPattern[fp] = p
		}

		p.Count++
		p.TotalTime += n.ExecutionTime
		p.RowsAffected += n.RowsAffected
		p.MinExecutionTime = min(p.MinExecutionTime, n.ExecutionTime)
		p.MaxExecutionTime = max(p.MaxExecutionTime, n.ExecutionTime)
		if n.CreatedAt.Before(p.FirstSeen.Time) {
			p.FirstSeen = n.CreatedAt
		}
		if n.CreatedAt.After(p.LastSeen.Time) {
			p.LastSeen = n.CreatedAt
		}
		if n.Success {
			successes[fp]++
		}
	}

	patterns := make([]PatternStats, 0, len(byPattern))
	for fp, p := range byPattern {
		p.AvgExecutionTime = p.TotalTime / float64(p.Count)
		p.SuccessRate = float64(successes[fp]) / float64(p.Count)
		patterns = append(patterns, *p)
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].TotalTime != patterns[j].TotalTime {
			return patterns[i].TotalTime > patterns[j].TotalTime
		}
		return patterns[i].Pattern < patterns[j].Pattern
	})

	return patterns[:min(limit, len(patterns))], nil
}

// ImportSlowLog saves a successful note for every slow log entry whose query
// time reaches opts.Threshold.
func (s *Service) ImportSlowLog(ctx context.Context, entries []slowlog.Entry, opts ImportOptions) (*ImportResult, error) {
	if err := s.validator.Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	tags := append([]string{TagSlowLog}, opts.Tags...)
	result := &ImportResult{Parsed: len(entries), Notes: []Note{}}

	for _, e := range entries {
		if e.QueryTime < opts.Threshold || e.Query == "" {
			result.Skipped++
			continue
		}

		note, err := s.SaveNote(ctx, NoteInput{
			Query:         e.Query,
			ExecutionTime: e.QueryTime,
			RowsAffected:  e.RowsSent,
			Success:       true,
			Note: fmt.Sprintf("slow log: %d rows examined, lock time %.6fs, %s@%s",
				e.RowsExamined, e.LockTime, e.User, e.Host),
			Tags: append([]string(nil), tags...),
		})
		if err != nil {
			return result, err
		}
		result.Imported++
		result.Notes = append(result.Notes, note)
	}
	return result, nil
}
