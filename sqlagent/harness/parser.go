package harness

import (
	"regexp"
	"strings"
)

// Decision is the parser's classification of one model response. It is one of
// ToolInvocation, FinalAnswer or Unparseable.
type Decision interface {
	decision()
}

// ToolInvocation asks the controller to run a tool.
type ToolInvocation struct {
	Thought string
	Tool    string
	Input   string
	Log     string // model text up to and including the action input
}

// FinalAnswer ends the run.
type FinalAnswer struct {
	Thought string
	Text    string
	Log     string
}

// Unparseable carries model text without a usable marker pair.
type Unparseable struct {
	Reason string
	Log    string
}

func (ToolInvocation) decision() {}
func (FinalAnswer) decision()    {}
func (Unparseable) decision()    {}

// OutputParser extracts ReAct decisions from free-form model output.
type OutputParser struct {
	actionPattern      *regexp.Regexp
	actionOnlyPattern  *regexp.Regexp
	finalPattern       *regexp.Regexp
	observationPattern *regexp.Regexp
	thoughtPattern     *regexp.Regexp
	fencePattern       *regexp.Regexp
}

// NewOutputParser creates a parser for the Thought/Action/Action Input/Final Answer format.
func NewOutputParser() *OutputParser {
	return &OutputParser{
		// Markers only count at the start of a line, so "next action:" inside a thought is prose.
		// Optional step numbers are accepted ("Action 1:").
		actionPattern:      regexp.MustCompile(`(?ims)^[ \t]*action\s*\d*\s*:[ \t]*(.*?)\s*^[ \t]*action\s*\d*\s*input\s*\d*\s*:[ \t]*(.*)`),
		actionOnlyPattern:  regexp.MustCompile(`(?im)^[ \t]*action\s*\d*\s*:`),
		finalPattern:       regexp.MustCompile(`(?ims)^[ \t]*final\s*answer\s*:[ \t]*(.*)`),
		observationPattern: regexp.MustCompile(`(?i)\n\s*observation\s*\d*\s*:`),
		thoughtPattern:     regexp.MustCompile(`(?i)^\s*thought\s*\d*\s*:\s*`),
		fencePattern:       regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$"),
	}
}

// Parse classifies raw model text. It never fails; malformed text becomes Unparseable.
func (p *OutputParser) Parse(text string) Decision {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	action := p.actionPattern.FindStringSubmatchIndex(text)
	final := p.finalPattern.FindStringSubmatchIndex(text)

	switch {
	case action != nil && (final == nil || action[0] < final[0]):
		return p.toolInvocation(text, action)

	case final != nil:
		return FinalAnswer{
			Thought: p.thought(text[:final[0]]),
			Text:    strings.TrimSpace(text[final[2]:final[3]]),
			Log:     strings.TrimSpace(text),
		}

	case p.actionOnlyPattern.MatchString(text):
		return Unparseable{Reason: "missing 'Action Input:' after 'Action:'", Log: strings.TrimSpace(text)}

	default:
		return Unparseable{Reason: "missing 'Action:' after 'Thought:'", Log: strings.TrimSpace(text)}
	}
}

func (p *OutputParser) toolInvocation(text string, loc []int) Decision {
	name := cleanToolName(text[loc[2]:loc[3]])

	// the model sometimes keeps going and invents the observation itself
	end := loc[5]
	if obs := p.observationPattern.FindStringIndex(text[loc[4]:loc[5]]); obs != nil {
		end = loc[4] + obs[0]
	}
	if fin := p.finalPattern.FindStringIndex(text[loc[4]:end]); fin != nil {
		end = loc[4] + fin[0]
	}

	log := strings.TrimSpace(text[:end])
	if name == "" {
		return Unparseable{Reason: "empty action name", Log: log}
	}

	return ToolInvocation{
		Thought: p.thought(text[:loc[0]]),
		Tool:    name,
		Input:   p.cleanToolInput(text[loc[4]:end]),
		Log:     log,
	}
}

func (p *OutputParser) thought(prefix string) string {
	return strings.TrimSpace(p.thoughtPattern.ReplaceAllString(strings.TrimSpace(prefix), ""))
}

func (p *OutputParser) cleanToolInput(input string) string {
	input = strings.TrimSpace(input)
	if m := p.fencePattern.FindStringSubmatch(input); m != nil {
		input = m[1]
	}
	for _, q := range []string{`"`, "`"} {
		if len(input) >= 2 && strings.HasPrefix(input, q) && strings.HasSuffix(input, q) {
			input = strings.TrimSpace(input[1 : len(input)-1])
		}
	}
	return input
}

func cleanToolName(name string) string {
	name, _, _ = strings.Cut(strings.TrimSpace(name), "\n")
	name = strings.Trim(strings.TrimSpace(name), " \t\"'`*[]().,:;")
	return strings.TrimSpace(name)
}
