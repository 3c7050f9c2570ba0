package mcp

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/kaz/mcpsql/internal/event"
	"github.com/kaz/mcpsql/internal/learning"
	"github.com/kaz/mcpsql/internal/slowlog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func (r *registrar) registerLearningTools(s *server.MCPServer) {
	addNoteTool := mcp.NewTool("add_query_learning_note",
		mcp.WithDescription("Records what was learned from an executed SQL statement: its timing, outcome, row count and free-form observations. "+
			"The query type is detected when not given and a complexity class is computed."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The SQL statement that was executed")),
		mcp.WithNumber("execution_time", mcp.Required(), mcp.Description("Execution time in seconds")),
		mcp.WithNumber("rows_affected", mcp.Required(), mcp.Description("Rows affected or returned")),
		mcp.WithBoolean("success", mcp.Required(), mcp.Description("Whether the statement succeeded")),
		mcp.WithString("note", mcp.Required(), mcp.Description("What was learned: behaviour, problems, possible improvements")),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Tags used to categorise the note")),
		mcp.WithString("query_type", mcp.Description("SELECT, INSERT, UPDATE, DELETE or OTHER; detected when omitted")),
	)
	s.AddTool(addNoteTool, logged("add_query_learning_note", r.handleAddNote))

	historyTool := mcp.NewTool("get_query_learning_history",
		mcp.WithDescription("Lists learning notes newest first with pagination and aggregate statistics "+
			"(success rate, average execution time, count per query type)."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of notes to return"), mcp.DefaultNumber(learning.DefaultHistoryLimit)),
		mcp.WithNumber("offset", mcp.Description("Number of notes to skip"), mcp.DefaultNumber(0)),
		mcp.WithString("query_type", mcp.Description("Only notes of this query type")),
		mcp.WithBoolean("success_only", mcp.Description("Only successful statements"), mcp.DefaultBool(false)),
	)
	s.AddTool(historyTool, logged("get_query_learning_history", r.handleHistory))

	searchTool := mcp.NewTool("search_query_learning_notes",
		mcp.WithDescription("Searches learning notes by text, tags, execution time and creation date. "+
			"Results follow insertion order. min_success_rate is accepted but does not filter."),
		mcp.WithString("search_term", mcp.Description("Case-insensitive text searched in the query and the note")),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Notes must carry every one of these tags")),
		mcp.WithNumber("min_success_rate", mcp.Description("Accepted for compatibility; not applied")),
		mcp.WithNumber("max_execution_time", mcp.Description("Maximum execution time in seconds")),
		mcp.WithString("date_from", mcp.Description("Earliest creation time, ISO-8601 (YYYY-MM-DD or a full timestamp)")),
		mcp.WithString("date_to", mcp.Description("Latest creation time, ISO-8601 (YYYY-MM-DD or a full timestamp)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results"), mcp.DefaultNumber(learning.DefaultSearchLimit)),
	)
	s.AddTool(searchTool, logged("search_query_learning_notes", r.handleSearch))

	suggestTool := mcp.NewTool("get_query_suggestions",
		mcp.WithDescription("Suggests previously successful queries related to a query fragment, ranked by relevance and then by speed."),
		mcp.WithString("query_fragment", mcp.Required(), mcp.Description("Fragment of SQL or a keyword to match")),
		mcp.WithString("context", mcp.Description("Extra context matched against note text")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of suggestions"), mcp.DefaultNumber(learning.DefaultSuggestionLimit)),
	)
	s.AddTool(suggestTool, logged("get_query_suggestions", r.handleSuggest))

	patternsTool := mcp.NewTool("get_query_patterns",
		mcp.WithDescription("Groups learning notes by normalised query fingerprint and reports per pattern counts, success rate and timings."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of patterns"), mcp.DefaultNumber(learning.DefaultPatternLimit)),
	)
	s.AddTool(patternsTool, logged("get_query_patterns", r.handlePatterns))

	importTool := mcp.NewTool("import_slow_log",
		mcp.WithDescription("Imports MySQL slow query log files as learning notes and summarises them by fingerprint. "+
			"The pattern is a glob relative to the configured slow log directory, for example **/*slow*.log."),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Glob selecting slow log files")),
		mcp.WithNumber("threshold", mcp.Description("Only import statements at least this slow, in seconds"), mcp.DefaultNumber(0)),
		mcp.WithArray("tags", mcp.WithStringItems(), mcp.Description("Extra tags for the imported notes")),
	)
	s.AddTool(importTool, logged("import_slow_log", r.handleImportSlowLog))
}

func (r *registrar) handleAddNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return toolError("%v", err), nil
	}
	executionTime, err := req.RequireFloat("execution_time")
	if err != nil {
		return toolError("%v", err), nil
	}
	rowsAffected, err := req.RequireInt("rows_affected")
	if err != nil {
		return toolError("%v", err), nil
	}
	success, err := req.RequireBool("success")
	if err != nil {
		return toolError("%v", err), nil
	}
	text, err := req.RequireString("note")
	if err != nil {
		return toolError("%v", err), nil
	}

	note, err := r.Learning.SaveNote(ctx, learning.NoteInput{
		Query:         q,
		ExecutionTime: executionTime,
		RowsAffected:  int64(rowsAffected),
		Success:       success,
		Note:          text,
		Tags:          req.GetStringSlice("tags", nil),
		QueryType:     req.GetString("query_type", ""),
	})
	if err != nil {
		return toolError("failed to save note: %v", err), nil
	}
	return newToolResultJSON(note)
}

func (r *registrar) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", learning.DefaultHistoryLimit)
	if limit == 0 {
		limit = learning.DefaultHistoryLimit
	}

	history, err := r.Learning.ListNotes(ctx, learning.ListOptions{
		Limit:       limit,
		Offset:      req.GetInt("offset", 0),
		QueryType:   req.GetString("query_type", ""),
		SuccessOnly: req.GetBool("success_only", false),
	})
	if err != nil {
		return toolError("failed to read history: %v", err), nil
	}
	return newToolResultJSON(history)
}

func (r *registrar) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	minSuccessRate, err := optionalFloat(args, "min_success_rate")
	if err != nil {
		return toolError("%v", err), nil
	}
	maxExecutionTime, err := optionalFloat(args, "max_execution_time")
	if err != nil {
		return toolError("%v", err), nil
	}

	notes, err := r.Learning.SearchNotes(ctx, learning.SearchOptions{
		SearchTerm:       req.GetString("search_term", ""),
		Tags:             req.GetStringSlice("tags", nil),
		MinSuccessRate:   minSuccessRate,
		MaxExecutionTime: maxExecutionTime,
		DateFrom:         req.GetString("date_from", ""),
		DateTo:           req.GetString("date_to", ""),
		Limit:            req.GetInt("limit", learning.DefaultSearchLimit),
	})
	if err != nil {
		return toolError("search failed: %v", err), nil
	}
	return newToolResultJSON(notes)
}

func (r *registrar) handleSuggest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fragment, err := req.RequireString("query_fragment")
	if err != nil {
		return toolError("%v", err), nil
	}

	suggestions, err := r.Learning.Suggest(ctx, fragment, req.GetString("context", ""),
		req.GetInt("limit", learning.DefaultSuggestionLimit))
	if err != nil {
		return toolError("failed to build suggestions: %v", err), nil
	}
	return newToolResultJSON(suggestions)
}

func (r *registrar) handlePatterns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	patterns, err := r.Learning.Patterns(ctx, req.GetInt("limit", learning.DefaultPatternLimit))
	if err != nil {
		return toolError("failed to group notes: %v", err), nil
	}
	return newToolResultJSON(patterns)
}

type importResponse struct {
	Files   []string                `json:"files"`
	Import  *learning.ImportResult  `json:"import"`
	Summary *slowlog.AnalysisResult `json:"summary"`
}

func (r *registrar) handleImportSlowLog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if r.SlowLogDir == "" {
		return toolError("slow log import is disabled: no slow log directory configured"), nil
	}

	pattern, err := req.RequireString("pattern")
	if err != nil {
		return toolError("%v", err), nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return toolError("invalid pattern %q", pattern), nil
	}

	files, err := doublestar.Glob(os.DirFS(r.SlowLogDir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return toolError("failed to match %q: %v", pattern, err), nil
	}
	if len(files) == 0 {
		return toolError("no slow log matches %q", pattern), nil
	}
	sort.Strings(files)

	var entries []slowlog.Entry
	for _, f := range files {
		parsed, err := slowlog.ParseFile(ctx, filepath.Join(r.SlowLogDir, filepath.FromSlash(f)))
		if err != nil {
			return toolError("failed to parse %s: %v", f, err), nil
		}
		entries = append(entries, parsed...)
	}

	threshold := req.GetFloat("threshold", 0)
	result, err := r.Learning.ImportSlowLog(ctx, entries, learning.ImportOptions{
		Threshold: threshold,
		Tags:      req.GetStringSlice("tags", nil),
	})
	if err != nil {
		return toolError("import failed: %v", err), nil
	}

	if r.Events != nil {
		r.Events.Publish(event.TopicImports, "slowlog_imported", map[string]any{
			"files":    files,
			"imported": result.Imported,
		})
	}

	return newToolResultJSON(importResponse{
		Files:   files,
		Import:  result,
		Summary: slowlog.Summarize(entries, threshold),
	})
}
