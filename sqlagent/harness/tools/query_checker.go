package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/adapters"
	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

// checkerTemplate asks the model to review one statement against a checklist of common mistakes.
const checkerTemplate = `
{query}
Double check the {dialect} query above for common mistakes, including:
- Using NOT IN with NULL values
- Using UNION when UNION ALL should have been used
- Using BETWEEN for exclusive ranges
- Data type mismatch in predicates
- Properly quoting identifiers
- Using the correct number of arguments for functions
- Casting to the correct data type
- Using the proper columns for joins

IMPORTANT: make sure the query is match with the {dialect}.

If there are any of the above mistakes, rewrite the query. If there are no mistakes, just reproduce the original query.

Output the final SQL query only.

SQL Query: `

const (
	checkerMaxTokens        = 512
	defaultCheckerCacheSize = 256
	defaultCheckerTimeout   = 60 * time.Second
)

var (
	sqlFence     = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	sqlLabel     = regexp.MustCompile(`(?i)^\s*(sql\s*query|query|sql)\s*:\s*`)
	// a leading WITH only counts when it opens a common table expression
	sqlStatement = regexp.MustCompile("(?im)^[ \\t]*(select|insert|update|delete|create|alter|drop|pragma|explain|" +
		"with\\s+(?:recursive\\s+)?[\\w\"`\\[\\]]+(?:\\s*\\([^)]*\\))?\\s+as\\s*(?:not\\s+)?(?:materialized\\s+)?\\()")
	whitespace = regexp.MustCompile(`\s+`)

	// clauseStart matches lines that carry a statement on from the previous line.
	clauseStart = regexp.MustCompile(`(?i)^(select|from|where|group|order|having|limit|offset|join|left|right|inner|outer|cross|full|natural|on|using|and|or|union|intersect|except|when|then|else|end|case|values|set|returning|window|fetch|into|partition|over|filter)\b`)
	// openEnded matches line endings that leave the statement unfinished.
	openEnded = regexp.MustCompile(`(?i)(,|\(|[=<>+*/|%-]|\b(select|from|where|by|and|or|on|join|as|in|not|is|like|between|then|else|when|case|distinct|all|union|intersect|except|having|set|values|into|with))$`)
)

// QueryChecker asks the model to review a candidate statement. It never executes SQL.
//
// Results are cached under both the input and the rewritten statement, so checking the
// checker's own output is a no-op. Concurrent checks of one statement share a model call
// that outlives any single caller, bounded by the checker timeout.
type QueryChecker struct {
	provider ports.Provider
	dialect  string
	cache    ports.Cache
	ttl      int
	timeout  time.Duration
	group    singleflight.Group
}

// NewQueryChecker creates the checker. A nil cache gets a private LRU.
func NewQueryChecker(provider ports.Provider, dialect string, cache ports.Cache, ttlSeconds int) *QueryChecker {
	if cache == nil {
		cache = adapters.NewLRUCache(defaultCheckerCacheSize)
	}
	return &QueryChecker{
		provider: provider,
		dialect:  dialect,
		cache:    cache,
		ttl:      ttlSeconds,
		timeout:  defaultCheckerTimeout,
	}
}

// Name returns the tool name.
func (t *QueryChecker) Name() string { return QueryCheckerName }

// Description returns the prompt-facing description.
func (t *QueryChecker) Description() string {
	return "Use this tool to double check if your query is correct before executing " +
		"it. Always use this tool before executing a query with " + QueryExecutionName + "!"
}

// Invoke returns the reviewed statement: rewritten when the model flags a mistake,
// otherwise the input unchanged.
func (t *QueryChecker) Invoke(ctx context.Context, input string) (string, error) {
	query := strings.TrimSpace(input)
	if query == "" {
		return "", fmt.Errorf("no query given to check")
	}

	key := normalizeSQL(query)
	if cached, ok := t.lookup(ctx, key); ok {
		return cached, nil
	}

	ch := t.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
		defer cancel()

		checked, err := t.check(callCtx, query)
		if err != nil {
			return "", err
		}
		t.store(callCtx, key, checked)
		t.store(callCtx, normalizeSQL(checked), checked)
		return checked, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (t *QueryChecker) check(ctx context.Context, query string) (string, error) {
	prompt := strings.NewReplacer("{query}", query, "{dialect}", t.dialect).Replace(checkerTemplate)

	completion, err := t.provider.Complete(ctx, ports.PromptInput{
		Messages: []ports.PromptMessage{{Role: "user", Content: prompt}},
		Meta:     map[string]string{"tool": QueryCheckerName},
	}, ports.Options{MaxNewTokens: checkerMaxTokens, Temperature: 0})
	if err != nil {
		return "", fmt.Errorf("query checker model call failed: %w", err)
	}

	checked := extractSQL(completion.Text)
	if checked == "" || sameStatement(checked, query) {
		return query, nil
	}
	return checked, nil
}

func (t *QueryChecker) lookup(ctx context.Context, key string) (string, bool) {
	v, ok := t.cache.Get(ctx, cacheKey(key))
	if !ok {
		return "", false
	}
	return string(v), true
}

func (t *QueryChecker) store(ctx context.Context, key, checked string) {
	if key == "" {
		return
	}
	_ = t.cache.Set(ctx, cacheKey(key), []byte(checked), t.ttl)
}

func cacheKey(normalized string) string {
	return QueryCheckerName + ":" + normalized
}

// extractSQL pulls exactly one statement out of a model reply, dropping fences, labels
// and any explanation around it.
func extractSQL(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if m := sqlFence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	text = sqlLabel.ReplaceAllString(text, "")

	loc := sqlStatement.FindStringSubmatchIndex(text)
	if loc == nil {
		return ""
	}
	text = text[loc[2]:]

	if end := statementEnd(text); end >= 0 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}

// statementEnd returns the index just past the first statement: a semicolon outside quotes
// (kept), or the end of the last line that continues the statement. Blank lines inside a
// statement are allowed. It returns -1 when the whole text is one statement.
func statementEnd(text string) int {
	var quote byte
	depth := 0
	lineStart := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case c == ';':
			return i + 1
		case c == '\n':
			if depth == 0 && !continues(text[lineStart:i], text[i+1:]) {
				return i
			}
			lineStart = i + 1
		}
	}
	return -1
}

// continues reports whether the text after a line break still belongs to the statement.
func continues(line, rest string) bool {
	next := strings.TrimLeft(rest, " \t\n")
	if next == "" {
		return false
	}
	if openEnded.MatchString(strings.TrimSpace(line)) {
		return true
	}

	// indented lines belong to the statement
	nextLine := rest[strings.LastIndex(rest[:len(rest)-len(next)], "\n")+1:]
	if nextLine != "" && (nextLine[0] == ' ' || nextLine[0] == '\t') {
		return true
	}

	if clauseStart.MatchString(next) || strings.HasPrefix(next, "--") {
		return true
	}
	switch next[0] {
	case ')', '(', ',', '=', '<', '>', '+', '|':
		return true
	}
	return false
}

// sameStatement compares statements ignoring whitespace runs and a trailing semicolon.
func sameStatement(a, b string) bool {
	return normalizeSQL(a) == normalizeSQL(b)
}

func normalizeSQL(s string) string {
	s = whitespace.ReplaceAllString(strings.TrimSpace(s), " ")
	return strings.TrimSpace(strings.TrimSuffix(s, ";"))
}

var _ ports.Tool = (*QueryChecker)(nil)
