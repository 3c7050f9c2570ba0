package mcp

import (
	"bytes"
	"fmt"
	"math"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
)

// newToolResultJSON renders v as indented JSON text.
func newToolResultJSON(v any) (*mcp.CallToolResult, error) {
	text, err := marshalText(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(text), nil
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...))
}

func marshalText(v any) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func optionalFloat(args map[string]any, key string) (*float64, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	f, ok := raw.(float64)
	if !ok {
		return nil, fmt.Errorf("%s must be a number", key)
	}
	return &f, nil
}

// sqlParams converts JSON decoded arguments to driver values. Whole numbers
// are bound as integers.
func sqlParams(raw any) ([]any, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("params must be an array")
	}

	params := make([]any, len(list))
	for i, v := range list {
		switch p := v.(type) {
		case nil, string, bool:
			params[i] = p
		case float64:
			if p == math.Trunc(p) && math.Abs(p) < 1<<53 {
				params[i] = int64(p)
			} else {
				params[i] = p
			}
		default:
			return nil, fmt.Errorf("params[%d]: unsupported type %T", i, v)
		}
	}
	return params, nil
}
