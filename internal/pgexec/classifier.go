package pgexec

import "strings"

// Classification is the two-variant policy decision for a SQL text.
type Classification int

const (
	// Mutating is the zero value: anything the classifier cannot prove
	// read-only is treated as mutating.
	Mutating Classification = iota
	ReadOnly
)

func (c Classification) String() string {
	if c == ReadOnly {
		return "READ_ONLY"
	}
	return "MUTATING"
}

// Keywords that disqualify a WITH statement: if any of these appear as a
// token anywhere in the text (including inside CTE bodies, where
// data-modifying statements are legal), the statement mutates.
var mutatingKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true,
	"CREATE": true, "DROP": true, "ALTER": true, "TRUNCATE": true,
	"GRANT": true, "REVOKE": true, "COPY": true, "CALL": true,
	"EXECUTE": true, "LOCK": true, "SET": true, "VACUUM": true,
	"REINDEX": true, "CLUSTER": true, "REFRESH": true,
}

// Classify decides whether a SQL text is read-only. It is a lexical check,
// not a parser: it skips leading whitespace, comments, and string literals,
// inspects the first keyword against a fixed allow-list, and rejects
// multi-statement text. Anything it cannot recognize is Mutating.
func Classify(query string) Classification {
	toks, ok := scanTokens(query)
	if !ok || len(toks) == 0 {
		return Mutating
	}

	// A semicolon followed by further tokens means multiple statements.
	for i, t := range toks {
		if t == ";" && i < len(toks)-1 {
			return Mutating
		}
	}

	switch toks[0] {
	case "SELECT", "SHOW", "DESCRIBE":
		return ReadOnly
	case "EXPLAIN":
		return classifyExplain(toks[1:])
	case "WITH":
		return classifyWith(toks[1:])
	default:
		return Mutating
	}
}

// classifyExplain skips EXPLAIN's option syntax and requires the explained
// statement itself to be read-only. EXPLAIN ANALYZE executes the statement,
// so EXPLAIN ANALYZE DELETE really deletes.
func classifyExplain(toks []string) Classification {
	i := 0
	if i < len(toks) && toks[i] == "(" {
		depth := 1
		i++
		for i < len(toks) && depth > 0 {
			switch toks[i] {
			case "(":
				depth++
			case ")":
				depth--
			}
			i++
		}
		if depth > 0 {
			return Mutating
		}
	} else {
		for i < len(toks) && (toks[i] == "ANALYZE" || toks[i] == "ANALYSE" || toks[i] == "VERBOSE") {
			i++
		}
	}
	if i >= len(toks) {
		return Mutating
	}
	switch toks[i] {
	case "SELECT":
		return ReadOnly
	case "WITH":
		return classifyWith(toks[i+1:])
	default:
		return Mutating
	}
}

// classifyWith accepts common table expressions that feed a final SELECT.
// Data-modifying CTEs (WITH d AS (DELETE ...) SELECT ...) are caught by the
// keyword sweep regardless of nesting depth.
func classifyWith(toks []string) Classification {
	sawSelect := false
	for _, t := range toks {
		if mutatingKeywords[t] {
			return Mutating
		}
		if t == "SELECT" {
			sawSelect = true
		}
	}
	if sawSelect {
		return ReadOnly
	}
	return Mutating
}

// scanTokens reduces a SQL text to uppercased word tokens plus "(", ")" and
// ";" markers, skipping whitespace, line comments, nested block comments,
// string literals (standard, E-escaped, and dollar-quoted), and quoted
// identifiers. Returns ok=false on unterminated constructs, which callers
// must treat as Mutating.
func scanTokens(s string) ([]string, bool) {
	var toks []string
	i, n := 0, len(s)
	for i < n {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			i++
		case c == '-' && i+1 < n && s[i+1] == '-':
			for i < n && s[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && s[i+1] == '*':
			// block comments nest in PostgreSQL
			depth := 1
			i += 2
			for i < n && depth > 0 {
				if s[i] == '/' && i+1 < n && s[i+1] == '*' {
					depth++
					i += 2
				} else if s[i] == '*' && i+1 < n && s[i+1] == '/' {
					depth--
					i += 2
				} else {
					i++
				}
			}
			if depth > 0 {
				return nil, false
			}
		case c == '\'':
			var ok bool
			i, ok = skipQuoted(s, i+1, '\'', false)
			if !ok {
				return nil, false
			}
		case c == '"':
			var ok bool
			i, ok = skipQuoted(s, i+1, '"', false)
			if !ok {
				return nil, false
			}
		case c == '$':
			j := i + 1
			for j < n && isWordByte(s[j]) {
				j++
			}
			if j < n && s[j] == '$' {
				tag := s[i : j+1]
				end := strings.Index(s[j+1:], tag)
				if end < 0 {
					return nil, false
				}
				i = j + 1 + end + len(tag)
			} else {
				i++
			}
		case c == ';':
			toks = append(toks, ";")
			i++
		case c == '(':
			toks = append(toks, "(")
			i++
		case c == ')':
			toks = append(toks, ")")
			i++
		case isWordByte(c):
			j := i
			for j < n && isWordByte(s[j]) {
				j++
			}
			word := strings.ToUpper(s[i:j])
			i = j
			// E'...' uses backslash escapes, unlike standard strings
			if (word == "E") && i < n && s[i] == '\'' {
				var ok bool
				i, ok = skipQuoted(s, i+1, '\'', true)
				if !ok {
					return nil, false
				}
				continue
			}
			toks = append(toks, word)
		default:
			i++
		}
	}
	return toks, true
}

// skipQuoted scans past a quoted region opened just before position i.
// Doubled quotes escape in all forms; backslash escapes only apply when
// backslashEscapes is set.
func skipQuoted(s string, i int, quote byte, backslashEscapes bool) (int, bool) {
	n := len(s)
	for i < n {
		switch {
		case backslashEscapes && s[i] == '\\':
			i += 2
		case s[i] == quote:
			if i+1 < n && s[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, true
		default:
			i++
		}
	}
	return i, false
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
