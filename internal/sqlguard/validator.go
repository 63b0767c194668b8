// Package sqlguard is the single gate through which every SQL statement must
// pass before it reaches the database. The validator is pure: it performs no
// I/O, the same input always produces the same verdict, and all failures are
// reported as typed rejections rather than errors.
package sqlguard

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/finsight-ai/finsight/internal/schema"
)

// RejectionKind identifies why a statement failed validation. The values are
// stable strings safe to log and to surface to callers.
type RejectionKind string

const (
	RejectTooLong            RejectionKind = "too_long"
	RejectContainsComment    RejectionKind = "contains_comment"
	RejectMultipleStatements RejectionKind = "multiple_statements"
	RejectNotSelect          RejectionKind = "not_select"
	RejectForbiddenKeyword   RejectionKind = "forbidden_keyword"
	RejectInjectionPattern   RejectionKind = "injection_pattern"
	RejectUnauthorizedTable  RejectionKind = "unauthorized_table"
	RejectSchemaUnknownTable RejectionKind = "schema_unknown_table"
)

// Verdict is the validator's result: either an accepted, normalized statement
// with a guaranteed LIMIT clause, or a rejection with a specific reason.
type Verdict struct {
	Accepted      bool
	NormalizedSQL string
	Reason        RejectionKind
	Detail        string
}

func accepted(sql string) Verdict {
	return Verdict{Accepted: true, NormalizedSQL: sql}
}

func rejected(reason RejectionKind, detail string) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}

// Config bounds the validator's normalization behavior. Zero values fall back
// to the defaults below.
type Config struct {
	MaxQueryLength int
	DefaultLimit   int
	MaxLimit       int
	// AllowedTables narrows the whitelist below the catalog's full table set.
	// Empty means every catalog table is queryable.
	AllowedTables []string
}

const (
	defaultMaxQueryLength = 5000
	defaultLimit          = 100
	defaultMaxLimit       = 1000
)

// Keywords that modify data or escape the read-only sandbox. Matched on word
// boundaries so identifiers like created_at never trip the scan.
var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER",
	"TRUNCATE", "REPLACE", "MERGE", "GRANT", "REVOKE",
	"EXEC", "EXECUTE", "CALL", "PRAGMA", "PROCEDURE", "FUNCTION",
}

var forbiddenKeywordRe = regexp.MustCompile(`(?i)\b(` + strings.Join(forbiddenKeywords, "|") + `)\b`)

// injectionPattern pairs a compiled pattern with the label used in the
// rejection detail.
type injectionPattern struct {
	label string
	re    *regexp.Regexp
}

var injectionPatterns = []injectionPattern{
	{"or-tautology", regexp.MustCompile(`(?i)\bor\s+\d+\s*=\s*\d+`)},
	{"or-tautology", regexp.MustCompile(`(?i)\bor\s+'[^']*'\s*=\s*'[^']*'`)},
	{"union-select", regexp.MustCompile(`(?i)\bunion\s+(?:select|all)\b`)},
	{"hex-literal", regexp.MustCompile(`(?i)\b0x[0-9a-f]+\b`)},
	{"stored-procedure", regexp.MustCompile(`(?i)\b(?:xp|sp)_\w+`)},
	{"system-catalog", regexp.MustCompile(`(?i)\b(?:information_schema|sqlite_master)\b`)},
	{"stacked-statement", regexp.MustCompile(`(?i);\s*(?:drop|delete|update)\b`)},
	{"time-delay", regexp.MustCompile(`(?i)\bwaitfor\s+delay\b`)},
	{"time-delay", regexp.MustCompile(`(?i)\bbenchmark\s*\(`)},
	{"time-delay", regexp.MustCompile(`(?i)\bsleep\s*\(`)},
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Validator runs the ordered validation pipeline against the schema catalog.
// It is safe for concurrent use.
type Validator struct {
	catalog        *schema.Catalog
	whitelist      map[string]struct{}
	maxQueryLength int
	defaultLimit   int
	maxLimit       int
}

// NewValidator builds a validator over the given catalog.
func NewValidator(catalog *schema.Catalog, cfg Config) *Validator {
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = defaultMaxQueryLength
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = defaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = defaultMaxLimit
	}

	whitelist := make(map[string]struct{})
	if len(cfg.AllowedTables) > 0 {
		for _, t := range cfg.AllowedTables {
			whitelist[strings.ToLower(t)] = struct{}{}
		}
	} else {
		for t := range catalog.AllowedTables() {
			whitelist[t] = struct{}{}
		}
	}

	return &Validator{
		catalog:        catalog,
		whitelist:      whitelist,
		maxQueryLength: cfg.MaxQueryLength,
		defaultLimit:   cfg.DefaultLimit,
		maxLimit:       cfg.MaxLimit,
	}
}

// Validate runs the full pipeline. Checks short-circuit on the first
// rejection; the order is part of the contract (cheap lexical checks first,
// table authorization last, LIMIT enforcement as a final normalization).
func (v *Validator) Validate(sql string) Verdict {
	// 1. Length bound on the raw input.
	if len(sql) > v.maxQueryLength {
		return rejected(RejectTooLong,
			fmt.Sprintf("query length %d exceeds the maximum of %d characters", len(sql), v.maxQueryLength))
	}

	// 2. Whitespace normalization. Everything after this operates on the
	// normalized string.
	norm := normalizeWhitespace(sql)
	if norm == "" {
		return rejected(RejectNotSelect, "only SELECT statements are allowed")
	}

	// 3. Comments can hide payloads (including semicolons) from later
	// checks, so they are forbidden outright and checked first.
	if strings.Contains(norm, "--") {
		return rejected(RejectContainsComment, "SQL comments (--) are not allowed")
	}
	if strings.Contains(norm, "/*") || strings.Contains(norm, "*/") {
		return rejected(RejectContainsComment, "SQL block comments (/* */) are not allowed")
	}

	// 4. Multi-statement check: one optional trailing semicolon is fine,
	// anything beyond that is a stacked statement.
	body := strings.TrimSpace(strings.TrimSuffix(norm, ";"))
	if strings.Contains(body, ";") {
		return rejected(RejectMultipleStatements, "multiple statements are not allowed")
	}
	norm = body

	// 5. Statement type: the first keyword must be SELECT.
	if !hasSelectPrefix(norm) {
		return rejected(RejectNotSelect, "only SELECT statements are allowed")
	}

	// 6. Forbidden keywords, word-bounded and case-insensitive.
	if m := forbiddenKeywordRe.FindString(norm); m != "" {
		return rejected(RejectForbiddenKeyword,
			fmt.Sprintf("forbidden keyword %q is not allowed", strings.ToUpper(m)))
	}

	// 7. Injection patterns.
	for _, p := range injectionPatterns {
		if p.re.MatchString(norm) {
			return rejected(RejectInjectionPattern,
				fmt.Sprintf("potential SQL injection pattern detected (%s)", p.label))
		}
	}

	// 8. Table authorization. Every referenced table must exist in the
	// catalog and be whitelisted; a SELECT must read from somewhere.
	tables := extractTables(norm)
	if len(tables) == 0 {
		return rejected(RejectUnauthorizedTable, "query does not reference any table")
	}
	for _, t := range tables {
		if !v.catalog.TableExists(t) {
			return rejected(RejectSchemaUnknownTable,
				fmt.Sprintf("table %q does not exist in the schema; available tables: %s",
					t, strings.Join(v.catalog.TableNames(), ", ")))
		}
		if _, ok := v.whitelist[t]; !ok {
			return rejected(RejectUnauthorizedTable,
				fmt.Sprintf("table %q is not authorized for querying", t))
		}
	}

	// 9. LIMIT enforcement. The single place the validator rewrites
	// semantics: no other layer can guarantee a row bound before execution.
	norm = v.enforceLimit(norm)

	return accepted(lowercaseKeywords(norm))
}

func normalizeWhitespace(sql string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(sql, " "))
}

func hasSelectPrefix(sql string) bool {
	first := sql
	if i := strings.IndexAny(sql, " ("); i > 0 {
		first = sql[:i]
	}
	return strings.EqualFold(first, "select")
}

// enforceLimit appends LIMIT 100 when the statement has no top-level LIMIT
// clause, rewrites LIMIT 0 to the default, and clamps an oversized bound down
// to the maximum. Only the outermost clause counts: a "limit" inside a string
// literal, a quoted identifier or a subquery does not bound the result set.
func (v *Validator) enforceLimit(sql string) string {
	start, end, ok := topLevelLimit(sql)
	if !ok {
		return fmt.Sprintf("%s limit %d", sql, v.defaultLimit)
	}
	n, err := strconv.Atoi(sql[start:end])
	if err != nil || n > v.maxLimit {
		return sql[:start] + strconv.Itoa(v.maxLimit) + sql[end:]
	}
	if n == 0 {
		return sql[:start] + strconv.Itoa(v.defaultLimit) + sql[end:]
	}
	return sql
}

// topLevelLimit returns the span of the numeric bound of a LIMIT clause at
// parenthesis depth zero, skipping quoted text. Operates on whitespace-
// normalized input, so the keyword and its bound are separated by one space.
func topLevelLimit(sql string) (int, int, bool) {
	depth := 0
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == '\'':
			i = skipSingleQuoted(sql, i)
		case c == '"':
			i = skipDoubleQuoted(sql, i)
		case c == '(':
			depth++
			i++
		case c == ')':
			if depth > 0 {
				depth--
			}
			i++
		case isWordByte(c):
			j := i + 1
			for j < len(sql) && isWordByte(sql[j]) {
				j++
			}
			if depth == 0 && strings.EqualFold(sql[i:j], "limit") {
				k := j
				for k < len(sql) && sql[k] == ' ' {
					k++
				}
				m := k
				for m < len(sql) && sql[m] >= '0' && sql[m] <= '9' {
					m++
				}
				if m > k && (m == len(sql) || !isWordByte(sql[m])) {
					return k, m, true
				}
			}
			i = j
		default:
			i++
		}
	}
	return 0, 0, false
}

// Keywords lowercased during normalization. Only tokens outside single-quoted
// string literals are touched, so data values keep their casing.
var normalizedKeywords = map[string]struct{}{
	"select": {}, "from": {}, "where": {}, "join": {}, "inner": {}, "left": {},
	"right": {}, "full": {}, "outer": {}, "cross": {}, "on": {}, "group": {},
	"by": {}, "order": {}, "having": {}, "limit": {}, "offset": {}, "as": {},
	"and": {}, "or": {}, "not": {}, "in": {}, "like": {}, "between": {},
	"is": {}, "null": {}, "distinct": {}, "count": {}, "sum": {}, "avg": {},
	"min": {}, "max": {}, "union": {}, "all": {}, "asc": {}, "desc": {},
	"case": {}, "when": {}, "then": {}, "else": {}, "end": {},
}

func lowercaseKeywords(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	i := 0
	for i < len(sql) {
		c := sql[i]

		// Copy string literals verbatim, honoring '' escapes.
		if c == '\'' {
			j := skipSingleQuoted(sql, i)
			b.WriteString(sql[i:j])
			i = j
			continue
		}

		if isWordByte(c) {
			j := i + 1
			for j < len(sql) && isWordByte(sql[j]) {
				j++
			}
			word := sql[i:j]
			lower := strings.ToLower(word)
			if _, ok := normalizedKeywords[lower]; ok {
				b.WriteString(lower)
			} else {
				b.WriteString(word)
			}
			i = j
			continue
		}

		b.WriteByte(c)
		i++
	}
	return b.String()
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// skipSingleQuoted returns the index just past the string literal starting at
// sql[i], honoring '' escapes.
func skipSingleQuoted(sql string, i int) int {
	j := i + 1
	for j < len(sql) {
		if sql[j] == '\'' {
			if j+1 < len(sql) && sql[j+1] == '\'' {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return j
}

// skipDoubleQuoted returns the index just past the quoted identifier starting
// at sql[i], honoring "" escapes.
func skipDoubleQuoted(sql string, i int) int {
	j := i + 1
	for j < len(sql) {
		if sql[j] == '"' {
			if j+1 < len(sql) && sql[j+1] == '"' {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return j
}
