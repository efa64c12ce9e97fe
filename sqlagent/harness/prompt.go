package harness

import (
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

const promptPrefix = `You are an agent designed to interact with a SQL database.
Given an input question, create a syntactically correct %[1]s query to run, then look at the results of the query and return the answer.
Unless the user specifies a specific number of examples they wish to obtain, always limit your query to at most %[2]d results.
You can order the results by a relevant column to return the most interesting examples in the database.
Never query for all the columns from a specific table, only ask for the relevant columns given the question.
You have access to tools for interacting with the database.
Only use the tools below. Only use the information returned by the tools to construct your final answer.
You MUST double check your query before executing it. If you get an error while executing a query, rewrite the query and try again.

DO NOT make any DML statements (INSERT, UPDATE, DELETE, DROP etc.) to the database.

If the question does not seem related to the database, just return "I don't know" as the answer.`

const promptFormat = `Use the following format:

Question: the input question you must answer
Thought: you should always think about what to do
Action: the action to take, should be one of [%s]
Action Input: the input to the action
Observation: the result of the action
... (this Thought/Action/Action Input/Observation can repeat N times)
Thought: I now know the final answer
Final Answer: the final answer to the original input question`

const firstThought = "I should look at the tables in the database to see what I can query. Then I should query the schema of the most relevant tables."

// StopSequences end generation before the model writes its own observation.
var StopSequences = []string{"\nObservation:", "\n\tObservation:"}

// PromptBuilder assembles the ReAct request: instructions, tool catalog, format, question, scratchpad.
type PromptBuilder struct {
	dialect string
	topK    int
}

func NewPromptBuilder(dialect string, topK int) *PromptBuilder {
	if dialect == "" {
		dialect = "SQL"
	}
	if topK <= 0 {
		topK = 10
	}
	return &PromptBuilder{dialect: dialect, topK: topK}
}

// Build renders the next model request.
func (b *PromptBuilder) Build(question string, tools []ports.ToolSpec, scratchpad string, meta map[string]string) ports.PromptInput {
	// Normalize newlines and trim whitespace to keep prompts stable across turns
	norm := func(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }

	names := make([]string, len(tools))
	catalog := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
		catalog[i] = tool.Name + ": " + norm(tool.Description)
	}

	system := strings.Join([]string{
		fmt.Sprintf(promptPrefix, b.dialect, b.topK),
		strings.Join(catalog, "\n"),
		fmt.Sprintf(promptFormat, strings.Join(names, ", ")),
	}, "\n\n")

	user := "Question: " + norm(question) + "\nThought: " + firstThought + "\n" + strings.ReplaceAll(scratchpad, "\r\n", "\n")

	return ports.PromptInput{
		System:   system,
		Messages: []ports.PromptMessage{{Role: "user", Content: user}},
		Meta:     meta,
	}
}
