package database

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrReadOnly is returned for statements rejected in read-only mode.
var ErrReadOnly = errors.New("statement not allowed in read-only mode")

type rule struct {
	re   *regexp.Regexp
	desc string
}

func keyword(word string) rule {
	return rule{regexp.MustCompile(`(?i)(?:^|[^a-zA-Z_])` + word + `(?:[^a-zA-Z_]|$)`), word}
}

func function(name string) rule {
	return rule{regexp.MustCompile(`(?i)\b` + name + `\s*\(`), name + "()"}
}

var (
	readPrefixes = []string{"SELECT", "WITH", "SHOW", "DESCRIBE", "DESC", "EXPLAIN"}

	// matched against the statement with literals and comments removed
	forbiddenKeywords = []rule{
		keyword("INSERT"), keyword("UPDATE"), keyword("DELETE"), keyword("DROP"),
		keyword("CREATE"), keyword("ALTER"), keyword("TRUNCATE"), keyword("GRANT"),
		keyword("REVOKE"), keyword("CALL"), keyword("EXEC"), keyword("EXECUTE"),
		keyword("REPLACE"), keyword("LOAD"), keyword("HANDLER"), keyword("RENAME"),
	}

	setStatement = regexp.MustCompile(`(?i)(?:^|;)\s*SET\b`)

	// matched against the raw statement
	forbiddenPatterns = []rule{
		{regexp.MustCompile(`(?i)\bINTO\s+OUTFILE\b`), "INTO OUTFILE"},
		{regexp.MustCompile(`(?i)\bINTO\s+DUMPFILE\b`), "INTO DUMPFILE"},
		{regexp.MustCompile(`(?i)\bINTO\s+@`), "INTO @variable"},
		function("LOAD_FILE"),
		function("SLEEP"),
		function("BENCHMARK"),
		function("GET_LOCK"),
		function("RELEASE_LOCK"),
		function("IS_FREE_LOCK"),
		function("IS_USED_LOCK"),
		function("WAIT_FOR_EXECUTED_GTID_SET"),
		function("WAIT_UNTIL_SQL_THREAD_AFTER_GTIDS"),
		function("MASTER_POS_WAIT"),
		function("SOURCE_POS_WAIT"),
	}
)

// ValidateReadOnly accepts a single SELECT, WITH, SHOW, DESCRIBE or EXPLAIN
// statement that cannot write data, read server files or stall the server.
func ValidateReadOnly(stmt string) error {
	trimmed := strings.TrimSpace(stmt)
	if trimmed == "" {
		return fmt.Errorf("%w: empty statement", ErrReadOnly)
	}

	if !hasReadPrefix(strings.ToUpper(trimmed)) {
		return fmt.Errorf("%w: only SELECT, WITH, SHOW, DESCRIBE and EXPLAIN are allowed", ErrReadOnly)
	}

	cleaned := stripLiterals(trimmed)

	if i := strings.Index(cleaned, ";"); i >= 0 && strings.TrimSpace(cleaned[i+1:]) != "" {
		return fmt.Errorf("%w: multiple statements", ErrReadOnly)
	}

	for _, r := range forbiddenKeywords {
		if r.re.MatchString(cleaned) {
			return fmt.Errorf("%w: forbidden keyword %s", ErrReadOnly, r.desc)
		}
	}
	if setStatement.MatchString(cleaned) {
		return fmt.Errorf("%w: SET statements", ErrReadOnly)
	}

	for _, r := range forbiddenPatterns {
		if r.re.MatchString(trimmed) {
			return fmt.Errorf("%w: forbidden construct %s", ErrReadOnly, r.desc)
		}
	}
	return nil
}

func hasReadPrefix(upper string) bool {
	for _, p := range readPrefixes {
		if upper == p {
			return true
		}
		if rest, ok := strings.CutPrefix(upper, p); ok && rest != "" && isSpace(rest[0]) {
			return true
		}
	}
	return false
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// stripLiterals empties string literals and quoted identifiers and replaces
// comments with a space, so keyword checks only see SQL structure. It follows
// MySQL lexing for # comments and backslash escapes.
func stripLiterals(s string) string {
	var out strings.Builder
	n := len(s)

	for i := 0; i < n; {
		switch {
		case s[i] == '#' || (s[i] == '-' && i+1 < n && s[i+1] == '-'):
			for i < n && s[i] != '\n' {
				i++
			}
			out.WriteByte(' ')

		case s[i] == '/' && i+1 < n && s[i+1] == '*':
			i += 2
			for i+1 < n && !(s[i] == '*' && s[i+1] == '/') {
				i++
			}
			i += 2
			out.WriteByte(' ')

		case s[i] == '\'' || s[i] == '"':
			quote := s[i]
			i++
			for i < n {
				if s[i] == '\\' && i+1 < n {
					i += 2
					continue
				}
				if s[i] == quote {
					if i+1 < n && s[i+1] == quote {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			out.WriteByte(quote)
			out.WriteByte(quote)

		case s[i] == '`':
			j := strings.IndexByte(s[i+1:], '`')
			if j < 0 {
				i = n
			} else {
				i += j + 2
			}
			out.WriteString("``")

		default:
			out.WriteByte(s[i])
			i++
		}
	}
	return out.String()
}
