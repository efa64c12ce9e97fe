package adapters

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	_ "modernc.org/sqlite"

	"github.com/ZanzyTHEbar/sql-agent/sqlagent"
	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

// manualClock is a settable time source.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLRUCache(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(2)

	require.NoError(t, cache.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, cache.Set(ctx, "b", []byte("2"), 0))

	// touching a makes b the eviction candidate
	_, ok := cache.Get(ctx, "a")
	require.True(t, ok)
	require.NoError(t, cache.Set(ctx, "c", []byte("3"), 0))

	_, ok = cache.Get(ctx, "b")
	assert.False(t, ok)
	v, ok := cache.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)
	assert.Equal(t, 2, cache.Len())

	require.NoError(t, cache.Set(ctx, "a", []byte("updated"), 0))
	v, _ = cache.Get(ctx, "a")
	assert.Equal(t, []byte("updated"), v)

	require.NoError(t, cache.Delete(ctx, "a"))
	_, ok = cache.Get(ctx, "a")
	assert.False(t, ok)
	assert.NoError(t, cache.Delete(ctx, "missing"))
}

func TestLRUCache_TTL(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewLRUCache(10)
	cache.now = clock.Now

	require.NoError(t, cache.Set(ctx, "short", []byte("x"), 60))
	require.NoError(t, cache.Set(ctx, "forever", []byte("y"), 0))

	clock.Advance(59 * time.Second)
	_, ok := cache.Get(ctx, "short")
	assert.True(t, ok)

	clock.Advance(2 * time.Second)
	_, ok = cache.Get(ctx, "short")
	assert.False(t, ok)
	assert.Equal(t, 1, cache.Len(), "expired entries are dropped on read")

	clock.Advance(24 * time.Hour)
	_, ok = cache.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tb := NewTokenBucket(2, time.Second)
	tb.now = clock.Now

	for i := 0; i < 2; i++ {
		release, err := tb.Acquire(ctx, "llm")
		require.NoError(t, err)
		release()
	}

	wait, ok := tb.take("llm")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	// other keys have their own bucket
	_, ok = tb.take("other")
	assert.True(t, ok)

	clock.Advance(1500 * time.Millisecond)
	_, ok = tb.take("llm")
	assert.True(t, ok)
	wait, ok = tb.take("llm")
	assert.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait)

	clock.Advance(time.Hour)
	for i := 0; i < 2; i++ {
		_, ok = tb.take("llm")
		assert.True(t, ok)
	}
	_, ok = tb.take("llm")
	assert.False(t, ok, "refill is capped at capacity")
}

func TestTokenBucket_AcquireWaits(t *testing.T) {
	tb := NewTokenBucket(1, 30*time.Millisecond)
	ctx := context.Background()

	_, err := tb.Acquire(ctx, "llm")
	require.NoError(t, err)

	start := time.Now()
	_, err = tb.Acquire(ctx, "llm")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestTokenBucket_AcquireCancelled(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour)
	_, err := tb.Acquire(context.Background(), "llm")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = tb.Acquire(ctx, "llm")
	var rlErr *RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestZerologTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	ctx, finishRun := tracer.StartSpan(context.Background(), "agent_run", map[string]any{"run_id": "r1"})
	callCtx, finishCall := tracer.StartSpan(ctx, "tool_call", map[string]any{"tool": "sql_db_query"})
	tracer.Event(callCtx, "limit_reached", map[string]any{"iterations": 3})
	finishCall(errors.New("boom"))
	finishRun(nil)

	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		lines = append(lines, entry)
	}
	require.Len(t, lines, 5)

	assert.Equal(t, "span_start", lines[0]["event"])
	assert.Equal(t, "agent_run", lines[0]["span"])

	// child spans carry parent fields
	assert.Equal(t, "tool_call", lines[1]["span"])
	assert.Equal(t, "r1", lines[1]["run_id"])
	assert.Equal(t, "agent_run", lines[1]["parent"])
	assert.Nil(t, lines[0]["parent"])

	assert.Equal(t, "limit_reached", lines[2]["event"])
	assert.Equal(t, "info", lines[2]["level"])
	assert.Equal(t, float64(3), lines[2]["iterations"])

	assert.Equal(t, "warn", lines[3]["level"])
	assert.Equal(t, "boom", lines[3]["error"])
	assert.Equal(t, "debug", lines[4]["level"])
	assert.Equal(t, "span_end", lines[4]["event"])
}

// RunStoreTestSuite exercises the run store on a migrated sqlite file.
type RunStoreTestSuite struct {
	suite.Suite
	db    *sql.DB
	store *LibSQLRunStore
	ctx   context.Context
}

func (s *RunStoreTestSuite) SetupTest() {
	s.ctx = context.Background()

	db, err := sql.Open("sqlite", filepath.Join(s.T().TempDir(), "runs.db"))
	s.Require().NoError(err)
	s.db = db

	s.Require().NoError(MigrateRunStore(s.ctx, db, goose.DialectSQLite3))
	s.store = NewLibSQLRunStore(db)
}

func (s *RunStoreTestSuite) TearDownTest() {
	s.db.Close()
}

func (s *RunStoreTestSuite) TestRunLifecycle() {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.StartRun(s.ctx, ports.RunRecord{ID: "r1", Question: "List all tables", StartedAt: started}))

	s.Require().NoError(s.store.AppendStep(s.ctx, "r1", ports.StepRecord{
		Index: 1, Action: "sql_db_schema", ActionInput: "Album", Observation: "CREATE TABLE Album", CreatedAt: started,
	}))
	s.Require().NoError(s.store.AppendStep(s.ctx, "r1", ports.StepRecord{
		Index: 0, Thought: "look first", Action: "sql_db_list_tables", Observation: "Album, Artist", CreatedAt: started,
	}))

	s.Require().NoError(s.store.FinishRun(s.ctx, ports.RunRecord{
		ID: "r1", Output: "Album, Artist", StopReason: "completed", Iterations: 2, FinishedAt: started.Add(3 * time.Second),
	}))

	steps, err := s.store.LoadSteps(s.ctx, "r1")
	s.Require().NoError(err)
	s.Require().Len(steps, 2)
	s.Equal(0, steps[0].Index)
	s.Equal("look first", steps[0].Thought)
	s.Equal("sql_db_schema", steps[1].Action)
	s.True(started.Equal(steps[1].CreatedAt))

	runs, err := s.store.RecentRuns(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(runs, 1)
	s.Equal("List all tables", runs[0].Question)
	s.Equal("completed", runs[0].StopReason)
	s.Equal(2, runs[0].Iterations)
	s.True(started.Equal(runs[0].StartedAt))
	s.True(started.Add(3 * time.Second).Equal(runs[0].FinishedAt))
}

func (s *RunStoreTestSuite) TestRecentRunsOrder() {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		s.Require().NoError(s.store.StartRun(s.ctx, ports.RunRecord{ID: id, Question: id, StartedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	runs, err := s.store.RecentRuns(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(runs, 2)
	s.Equal("new", runs[0].ID)
	s.Equal("mid", runs[1].ID)
	s.True(runs[0].FinishedAt.IsZero(), "unfinished runs have no finish time")
}

func (s *RunStoreTestSuite) TestFinishUnknownRun() {
	err := s.store.FinishRun(s.ctx, ports.RunRecord{ID: "ghost", StopReason: "completed"})
	s.ErrorContains(err, "unknown run ghost")
}

func (s *RunStoreTestSuite) TestMigrateIsIdempotent() {
	s.NoError(MigrateRunStore(s.ctx, s.db, goose.DialectSQLite3))
}

func TestRunStoreTestSuite(t *testing.T) {
	suite.Run(t, new(RunStoreTestSuite))
}

func testPrompt() ports.PromptInput {
	return ports.PromptInput{
		System:   "You are an agent designed to interact with a SQL database.",
		Messages: []ports.PromptMessage{{Role: "user", Content: "Question: How many albums?\nThought: "}},
	}
}

func TestOpenAIProvider_Complete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Final Answer: 4"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":20,"completion_tokens":4,"total_tokens":24}}`)
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(srv.URL+"/v1/", "secret", "test-model", time.Second)
	out, err := provider.Complete(context.Background(), testPrompt(), ports.Options{
		MaxNewTokens: 256,
		Stop:         []string{"\nObservation:"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Final Answer: 4", out.Text)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 24, out.Usage.TotalTokens)

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 256, got.MaxTokens)
	assert.Equal(t, []string{"\nObservation:"}, got.Stop)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
}

func TestOpenAIProvider_Errors(t *testing.T) {
	var status atomic.Int64
	status.Store(http.StatusUnauthorized)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		io.WriteString(w, `{"error":{"message":"invalid api key","type":"auth"}}`)
	}))
	defer srv.Close()

	provider := NewOpenAIProvider(srv.URL, "bad", "m", time.Second)

	_, err := provider.Complete(context.Background(), testPrompt(), ports.Options{})
	assert.ErrorIs(t, err, sqlagent.ErrAuthentication)
	assert.ErrorContains(t, err, "invalid api key")

	for _, status5xx := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout} {
		status.Store(int64(status5xx))
		_, err = provider.Complete(context.Background(), testPrompt(), ports.Options{})
		require.Error(t, err)
		assert.False(t, sqlagent.IsFatal(err), "status %d", status5xx)
		assert.ErrorContains(t, err, strconv.Itoa(status5xx))
	}

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	_, err = NewOpenAIProvider(closed.URL, "k", "m", time.Second).Complete(context.Background(), testPrompt(), ports.Options{})
	assert.ErrorIs(t, err, sqlagent.ErrConnectivity)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = provider.Complete(ctx, testPrompt(), ports.Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, sqlagent.IsFatal(err))
}

func TestAnthropicProvider_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"Action: sql_db_list_tables\nAction Input: "}],
			"stop_reason":"stop_sequence","stop_sequence":"\nObservation:",
			"usage":{"input_tokens":30,"output_tokens":9}}`)
	}))
	defer srv.Close()

	provider := NewAnthropicProvider("secret", srv.URL, "claude-test", time.Second)
	out, err := provider.Complete(context.Background(), testPrompt(), ports.Options{
		Stop: []string{"\nObservation:", " "},
	})
	require.NoError(t, err)

	assert.Equal(t, "Action: sql_db_list_tables\nAction Input: ", out.Text)
	assert.Equal(t, 39, out.Usage.TotalTokens)

	assert.Equal(t, "claude-test", got["model"])
	assert.Equal(t, float64(defaultAnthropicMaxTokens), got["max_tokens"])
	assert.Equal(t, []any{"\nObservation:"}, got["stop_sequences"])
	assert.Len(t, got["messages"], 1)
	assert.NotEmpty(t, got["system"])
}

func TestAnthropicProvider_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	provider := NewAnthropicProvider("bad", srv.URL, "claude-test", time.Second)
	_, err := provider.Complete(context.Background(), testPrompt(), ports.Options{})
	assert.ErrorIs(t, err, sqlagent.ErrAuthentication)

	_, err = provider.Complete(context.Background(), ports.PromptInput{System: "only system"}, ports.Options{})
	assert.ErrorContains(t, err, "no messages")
}
