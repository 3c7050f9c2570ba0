package mcp

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/kaz/mcpsql/internal/learning"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	historyURIPrefix     = "schema://learning/query_history/"
	suggestionsURIPrefix = "schema://learning/query_suggestions/"
	jsonMIMEType         = "application/json"
)

func (r *registrar) registerResources(s *server.MCPServer) {
	s.AddResourceTemplate(
		mcp.NewResourceTemplate(historyURIPrefix+"{limit}", "query_learning_history",
			mcp.WithTemplateDescription("The most recent query learning notes"),
			mcp.WithTemplateMIMEType(jsonMIMEType),
		),
		r.handleHistoryResource,
	)
	s.AddResourceTemplate(
		mcp.NewResourceTemplate(suggestionsURIPrefix+"{query_fragment}", "query_suggestions",
			mcp.WithTemplateDescription("Successful queries related to a fragment"),
			mcp.WithTemplateMIMEType(jsonMIMEType),
		),
		r.handleSuggestionsResource,
	)
}

func (r *registrar) handleHistoryResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	raw, ok := strings.CutPrefix(uri, historyURIPrefix)
	if !ok {
		return nil, fmt.Errorf("unexpected resource uri %q", uri)
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return nil, fmt.Errorf("limit must be a non-negative integer: %q", raw)
	}
	if limit == 0 {
		limit = learning.DefaultHistoryLimit
	}

	history, err := r.Learning.ListNotes(ctx, learning.ListOptions{Limit: limit})
	if err != nil {
		return nil, err
	}
	return jsonResource(uri, history)
}

func (r *registrar) handleSuggestionsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	raw, ok := strings.CutPrefix(uri, suggestionsURIPrefix)
	if !ok {
		return nil, fmt.Errorf("unexpected resource uri %q", uri)
	}
	fragment, err := url.PathUnescape(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid query fragment %q: %w", raw, err)
	}

	suggestions, err := r.Learning.Suggest(ctx, fragment, "", learning.DefaultSuggestionLimit)
	if err != nil {
		return nil, err
	}
	return jsonResource(uri, suggestions)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	text, err := marshalText(v)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: jsonMIMEType, Text: text},
	}, nil
}
