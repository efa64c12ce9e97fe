package harness

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// requestSchema bounds what a caller may submit as a run.
const requestSchema = `{
  "type": "object",
  "required": ["question", "max_iterations"],
  "properties": {
    "question":       {"type": "string", "minLength": 1, "maxLength": 8000},
    "max_iterations": {"type": "integer", "minimum": 1, "maximum": 100},
    "max_time_ms":    {"type": "integer", "minimum": 0}
  }
}`

// Guardrails validates run requests and masks sensitive data in answers.
type Guardrails struct {
	blockedWords  []string         // words that must not appear in questions
	outputFilters []*regexp.Regexp // patterns masked in final answers
	jsonValidator *JSONValidator
}

// NewGuardrails creates guardrails with default redaction patterns.
func NewGuardrails() *Guardrails {
	return &Guardrails{
		outputFilters: []*regexp.Regexp{
			regexp.MustCompile(`(?i)password\s*[:=]\s*\S+`),
			regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*\S+`),
			regexp.MustCompile(`(?i)secret\s*[:=]\s*\S+`),
			// credentials embedded in connection strings
			regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]*://[^:/\s@]+:[^@\s]+@`),
		},
		jsonValidator: NewJSONValidator(),
	}
}

// SetBlockedWords replaces the list of words rejected in questions.
func (g *Guardrails) SetBlockedWords(words []string) {
	g.blockedWords = g.blockedWords[:0]
	for _, w := range words {
		if w = strings.TrimSpace(strings.ToLower(w)); w != "" {
			g.blockedWords = append(g.blockedWords, w)
		}
	}
}

// ValidateRequest checks a request against the request schema and the blocked words.
func (g *Guardrails) ValidateRequest(req *Request) error {
	doc := map[string]any{"question": req.Question}
	if req.Policy != nil {
		doc["max_iterations"] = req.Policy.MaxIterations
		doc["max_time_ms"] = req.Policy.MaxTime.Milliseconds()
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	if err := g.jsonValidator.Validate(data, []byte(requestSchema)); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}

	lower := strings.ToLower(req.Question)
	for _, word := range g.blockedWords {
		if strings.Contains(lower, word) {
			return fmt.Errorf("question contains blocked content: %s", word)
		}
	}
	return nil
}

// SanitizeOutput masks sensitive information in a final answer.
func (g *Guardrails) SanitizeOutput(output string) string {
	sanitized := output
	for _, filter := range g.outputFilters {
		sanitized = filter.ReplaceAllString(sanitized, "[REDACTED]")
	}
	return sanitized
}

// JSONValidator handles JSON schema validation.
type JSONValidator struct{}

// NewJSONValidator creates a new JSON validator.
func NewJSONValidator() *JSONValidator {
	return &JSONValidator{}
}

// Validate checks if JSON data conforms to a schema.
func (v *JSONValidator) Validate(data json.RawMessage, schema []byte) error {
	if len(schema) == 0 {
		return nil
	}
	if !json.Valid(data) {
		return fmt.Errorf("data is not valid JSON")
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
