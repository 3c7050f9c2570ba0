// Package slowlog reads MySQL slow query logs and summarises them by query
// fingerprint.
package slowlog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/labstack/gommon/log"
	perconalog "github.com/percona/go-mysql/log"
	parser "github.com/percona/go-mysql/log/slow"
	"github.com/percona/go-mysql/query"
)

const (
	topPatterns = 20
	topQueries  = 10
)

// Entry is one statement recorded in the slow log
type Entry struct {
	Time         time.Time `json:"time"`
	User         string    `json:"user"`
	Host         string    `json:"host"`
	Db           string    `json:"db,omitempty"`
	QueryTime    float64   `json:"query_time"`    // seconds
	LockTime     float64   `json:"lock_time"`     // seconds
	RowsSent     int64     `json:"rows_sent"`     // Number of rows sent
	RowsExamined int64     `json:"rows_examined"` // Number of rows examined
	Query        string    `json:"query"`
}

// QueryStats aggregates every entry sharing a fingerprint
type QueryStats struct {
	Pattern         string    `json:"pattern"`
	Count           int       `json:"count"`
	TotalTime       float64   `json:"total_time"`
	AvgTime         float64   `json:"avg_time"`
	MaxTime         float64   `json:"max_time"`
	MinTime         float64   `json:"min_time"`
	RowsExamined    int64     `json:"rows_examined"`
	RowsExaminedAvg float64   `json:"rows_examined_avg"`
	RowsSent        int64     `json:"rows_sent"`
	RowsSentAvg     float64   `json:"rows_sent_avg"`
	Example         string    `json:"example"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
}

type AnalysisResult struct {
	TopQueryPatterns []QueryStats `json:"top_query_patterns"`
	SlowestQueries   []Entry      `json:"slowest_queries"`
	TotalQueries     int          `json:"total_queries"`
	TotalTime        float64      `json:"total_time"`
}

// ParseFile reads every entry of the slow log at path.
func ParseFile(ctx context.Context, path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open slow log: %w", err)
	}
	defer f.Close()

	return Parse(ctx, f)
}

// Parse reads entries from an open slow log file until EOF or ctx is done.
func Parse(ctx context.Context, f *os.File) ([]Entry, error) {
	p := parser.NewSlowLogParser(f, perconalog.Options{
		DefaultLocation: time.UTC,
	})
	go p.Start()

	entries := []Entry{}
	events := p.EventChan()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				log.Debugf("slowlog: parsed %d entries from %s", len(entries), f.Name())
				return entries, nil
			}
			if event == nil {
				continue
			}
			entries = append(entries, Entry{
				Time:         event.Ts,
				User:         event.User,
				Host:         event.Host,
				Db:           event.Db,
				QueryTime:    event.TimeMetrics["Query_time"],
				LockTime:     event.TimeMetrics["Lock_time"],
				RowsSent:     int64(event.NumberMetrics["Rows_sent"]),
				RowsExamined: int64(event.NumberMetrics["Rows_examined"]),
				Query:        event.Query,
			})
		case <-ctx.Done():
			p.Stop()
			return nil, fmt.Errorf("slow log parsing aborted: %w", ctx.Err())
		}
	}
}

// Fingerprint normalises a statement so that statements differing only in
// literal values share a pattern.
func Fingerprint(q string) string {
	return query.Fingerprint(q)
}

// Summarize groups entries by fingerprint. Only entries at or above threshold
// are listed among the slowest queries; every entry counts towards the
// pattern statistics.
func Summarize(entries []Entry, threshold float64) *AnalysisResult {
	patternStats := make(map[string]*QueryStats)
	var slowQueries []Entry

	result := &AnalysisResult{}

	for _, e := range entries {
		if e.QueryTime >= threshold {
			slowQueries = append(slowQueries, e)
		}

		fp := Fingerprint(e.Query)
		stats, exists := patternStats[fp]
		if !exists {
			stats = &QueryStats{
				Pattern:   fp,
				MinTime:   e.QueryTime,
				Example:   e.Query,
				FirstSeen: e.Time,
			}
			patternStats[fp] = stats
		}

		stats.Count++
		stats.TotalTime += e.QueryTime
		stats.LastSeen = e.Time
		stats.MaxTime = max(stats.MaxTime, e.QueryTime)
		stats.MinTime = min(stats.MinTime, e.QueryTime)
		stats.RowsExamined += e.RowsExamined
		stats.RowsSent += e.RowsSent

		result.TotalQueries++
		result.TotalTime += e.QueryTime
	}

	statsSlice := make([]QueryStats, 0, len(patternStats))
	for _, stat := range patternStats {
		stat.AvgTime = stat.TotalTime / float64(stat.Count)
		stat.RowsExaminedAvg = float64(stat.RowsExamined) / float64(stat.Count)
		stat.RowsSentAvg = float64(stat.RowsSent) / float64(stat.Count)
		statsSlice = append(statsSlice, *stat)
	}

	sort.Slice(statsSlice, func(i, j int) bool {
		if statsSlice[i].TotalTime != statsSlice[j].TotalTime {
			return statsSlice[i].TotalTime > statsSlice[j].TotalTime
		}
		return statsSlice[i].Pattern < statsSlice[j].Pattern
	})
	sort.SliceStable(slowQueries, func(i, j int) bool {
		return slowQueries[i].QueryTime > slowQueries[j].QueryTime
	})

	result.TopQueryPatterns = statsSlice[:min(topPatterns, len(statsSlice))]
	result.SlowestQueries = slowQueries[:min(topQueries, len(slowQueries))]
	if result.SlowestQueries == nil {
		result.SlowestQueries = []Entry{}
	}
	return result
}
