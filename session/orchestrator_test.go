package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	errorskg "github.com/sweetpotato0/toolchat/errors"
	"github.com/sweetpotato0/toolchat/message"
	"github.com/sweetpotato0/toolchat/middleware/validator"
	"github.com/sweetpotato0/toolchat/model"
	"github.com/sweetpotato0/toolchat/runtime/provider"
	"github.com/sweetpotato0/toolchat/tool"
)

// scriptedModel replies with the queued answers in order and records the
// history of every request.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests [][]*message.Message
	gate     chan struct{}
}

func (m *scriptedModel) GetCompletion(ctx context.Context, history []*message.Message) (string, error) {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, message.CloneMessages(history))
	i := len(m.requests) - 1
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i >= len(m.replies) {
		return "", &errorskg.ModelRequestError{Model: "scripted", Err: errors.New("no reply queued")}
	}
	return m.replies[i], nil
}

func (m *scriptedModel) request(i int) []*message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func (m *scriptedModel) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type invocation struct {
	Tool string
	Args map[string]any
}

// fakeRouter serves a fixed registry and answers calls from results.
type fakeRouter struct {
	mu      sync.Mutex
	tools   []*tool.Descriptor
	results map[string]provider.Result
	calls   []invocation
}

func (r *fakeRouter) setTools(tools ...*tool.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = tools
}

func (r *fakeRouter) AggregateTools() *tool.Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return tool.NewRegistry(tool.Catalog{Provider: "calc", Tools: r.tools})
}

func (r *fakeRouter) RouteInvoke(_ context.Context, name string, args map[string]any) provider.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, invocation{Tool: name, Args: args})
	if res, ok := r.results[name]; ok {
		res.Tool = name
		return res
	}
	return provider.Result{Tool: name, Content: "tool not found: " + name, Err: errorskg.ErrNotFound}
}

var addDescriptor = &tool.Descriptor{
	Name:        "add",
	Description: "Add two integers",
	Parameters: []tool.Parameter{
		{Name: "a", Description: "first addend", Required: true},
		{Name: "b", Description: "second addend", Required: true},
	},
}

func newCalcRouter() *fakeRouter {
	return &fakeRouter{
		tools:   []*tool.Descriptor{addDescriptor},
		results: map[string]provider.Result{"add": {Provider: "calc", Content: "5", OK: true}},
	}
}

func collect(t *testing.T, events <-chan TurnEvent) []TurnEvent {
	t.Helper()
	var out []TurnEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("turn did not finish, got %v", out)
		}
	}
}

func kinds(events []TurnEvent) []TurnEventKind {
	out := make([]TurnEventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestHandleUserTurnWithoutToolCall(t *testing.T) {
	llm := &scriptedModel{replies: []string{"Hello! How can I help?"}}
	orch := NewOrchestrator(newCalcRouter(), WithModel("test", llm))

	events, err := orch.HandleUserTurn(context.Background(), "hi")
	require.NoError(t, err)
	got := collect(t, events)

	require.Equal(t, []TurnEventKind{TurnFinal}, kinds(got))
	require.Equal(t, "Hello! How can I help?", got[0].Content)

	history := orch.History()
	require.Equal(t, []message.Role{message.RoleSystem, message.RoleUser, message.RoleAssistant}, message.Roles(history))
	require.Contains(t, history[0].Content, "Tool: add")
	require.Contains(t, history[0].Content, "- a: first addend (required)")
	require.Equal(t, "hi", history[1].Content)
	require.Equal(t, 1, llm.requestCount())
}

func TestHandleUserTurnWithToolCall(t *testing.T) {
	call := `{"tool": "add", "arguments": {"a": 2, "b": 3}}`
	llm := &scriptedModel{replies: []string{call, "2 plus 3 is 5."}}
	router := newCalcRouter()
	orch := NewOrchestrator(router, WithModel("test", llm))

	events, err := orch.HandleUserTurn(context.Background(), "what is 2+3?")
	require.NoError(t, err)
	got := collect(t, events)

	require.Equal(t, []TurnEventKind{TurnResponse, TurnToolResult, TurnFinal}, kinds(got))
	require.Equal(t, call, got[0].Content)
	require.Equal(t, "add", got[1].Tool)
	require.Equal(t, "5", got[1].Content)
	require.True(t, got[1].OK)
	require.Equal(t, "2 plus 3 is 5.", got[2].Content)

	require.Len(t, router.calls, 1)
	require.Equal(t, "add", router.calls[0].Tool)
	require.EqualValues(t, 2, router.calls[0].Args["a"])

	history := orch.History()
	require.Equal(t, []message.Role{
		message.RoleSystem, message.RoleUser, message.RoleAssistant, message.RoleToolResult, message.RoleAssistant,
	}, message.Roles(history))
	require.Equal(t, call, history[2].Content)
	require.Equal(t, "Tool execution result: 5", history[3].Content)

	second := llm.request(1)
	require.Len(t, second, 4)
	require.Equal(t, message.RoleToolResult, second[3].Role)
}

func TestHandleUserTurnUnknownTool(t *testing.T) {
	llm := &scriptedModel{replies: []string{`{"tool": "nope", "arguments": {}}`, "I could not find that tool."}}
	orch := NewOrchestrator(newCalcRouter(), WithModel("test", llm))

	got := collect(t, mustTurn(t, orch, "use nope"))
	require.Equal(t, []TurnEventKind{TurnResponse, TurnToolResult, TurnFinal}, kinds(got))
	require.False(t, got[1].OK)
	require.Equal(t, "tool not found: nope", got[1].Content)
	require.Equal(t, "Tool execution result: tool not found: nope", orch.History()[3].Content)
}

func TestHandleUserTurnTreatsOtherJSONAsText(t *testing.T) {
	reply := `{"tool": "add", "arguments": {"a": 1}, "note": "x"}`
	llm := &scriptedModel{replies: []string{reply}}
	router := newCalcRouter()
	orch := NewOrchestrator(router, WithModel("test", llm))

	got := collect(t, mustTurn(t, orch, "hi"))
	require.Equal(t, []TurnEventKind{TurnFinal}, kinds(got))
	require.Equal(t, reply, got[0].Content)
	require.Empty(t, router.calls)
}

func TestHandleUserTurnModelErrors(t *testing.T) {
	t.Run("first completion", func(t *testing.T) {
		modelErr := &errorskg.ModelRequestError{Model: "test", StatusCode: 500, Err: errors.New("upstream")}
		llm := &scriptedModel{errs: []error{modelErr}}
		orch := NewOrchestrator(newCalcRouter(), WithModel("test", llm))

		got := collect(t, mustTurn(t, orch, "hi"))
		require.Equal(t, []TurnEventKind{TurnError}, kinds(got))
		var target *errorskg.ModelRequestError
		require.ErrorAs(t, got[0].Err, &target)
		require.Equal(t, 500, target.StatusCode)

		require.Equal(t, []message.Role{message.RoleSystem, message.RoleUser}, message.Roles(orch.History()))
	})

	t.Run("second completion", func(t *testing.T) {
		llm := &scriptedModel{
			replies: []string{`{"tool": "add", "arguments": {"a": 2, "b": 3}}`},
			errs:    []error{nil, &errorskg.ModelRequestError{Model: "test", Err: errors.New("timeout")}},
		}
		orch := NewOrchestrator(newCalcRouter(), WithModel("test", llm))

		got := collect(t, mustTurn(t, orch, "add"))
		require.Equal(t, []TurnEventKind{TurnResponse, TurnToolResult, TurnError}, kinds(got))
		require.Equal(t, []message.Role{
			message.RoleSystem, message.RoleUser, message.RoleAssistant, message.RoleToolResult,
		}, message.Roles(orch.History()))
	})
}

func TestHandleUserTurnSingleFlight(t *testing.T) {
	llm := &scriptedModel{replies: []string{"one", "two"}, gate: make(chan struct{})}
	orch := NewOrchestrator(newCalcRouter(), WithModel("test", llm))

	events, err := orch.HandleUserTurn(context.Background(), "first")
	require.NoError(t, err)

	_, err = orch.HandleUserTurn(context.Background(), "second")
	require.ErrorIs(t, err, errorskg.ErrTurnInFlight)
	require.ErrorIs(t, orch.Reset(), errorskg.ErrTurnInFlight)

	llm.gate <- struct{}{}
	got := collect(t, events)
	require.Equal(t, "one", got[0].Content)

	close(llm.gate)
	reply, err := orch.RunTurn(context.Background(), "second")
	require.NoError(t, err)
	require.Equal(t, "two", reply)
	require.Equal(t, []message.Role{
		message.RoleSystem, message.RoleUser, message.RoleAssistant, message.RoleUser, message.RoleAssistant,
	}, message.Roles(orch.History()))
}

func TestSystemPromptRefreshedEveryTurn(t *testing.T) {
	llm := &scriptedModel{replies: []string{"a", "b"}}
	router := newCalcRouter()
	orch := NewOrchestrator(router, WithModel("test", llm))

	_, err := orch.RunTurn(context.Background(), "one")
	require.NoError(t, err)
	require.NotContains(t, orch.History()[0].Content, "Tool: mul")

	router.setTools(addDescriptor, &tool.Descriptor{Name: "mul", Description: "Multiply"})
	_, err = orch.RunTurn(context.Background(), "two")
	require.NoError(t, err)

	history := orch.History()
	require.Contains(t, history[0].Content, "Tool: mul")
	systems := 0
	for _, msg := range history {
		if msg.Role == message.RoleSystem {
			systems++
		}
	}
	require.Equal(t, 1, systems)
	require.Contains(t, llm.request(1)[0].Content, "Tool: mul")
}

func TestOrchestratorStoreAndResume(t *testing.T) {
	store := newMemoryStore()
	llm := &scriptedModel{replies: []string{"hello"}}
	orch := NewOrchestrator(nil, WithModel("qwen", llm), WithStore(store), WithConversationID("conv-1"))

	_, err := orch.RunTurn(context.Background(), "hi")
	require.NoError(t, err)

	rec, err := store.Load(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, "qwen", rec.Model)
	require.Len(t, rec.Messages, 3)

	resumed := NewOrchestrator(nil, WithModel("qwen", llm), WithStore(store))
	require.NoError(t, resumed.Resume(context.Background(), "conv-1"))
	require.Equal(t, "conv-1", resumed.ID())
	require.Len(t, resumed.History(), 3)

	err = resumed.Resume(context.Background(), "missing")
	require.ErrorIs(t, err, errorskg.ErrNotFound)

	require.ErrorIs(t, NewOrchestrator(nil).Resume(context.Background(), "conv-1"), errorskg.ErrInvalidInput)
}

func TestOrchestratorReset(t *testing.T) {
	llm := &scriptedModel{replies: []string{"hello"}}
	orch := NewOrchestrator(nil, WithModel("test", llm), WithConversationID("conv-1"))

	_, err := orch.RunTurn(context.Background(), "hi")
	require.NoError(t, err)
	require.NotEmpty(t, orch.History())

	require.NoError(t, orch.Reset())
	require.Empty(t, orch.History())
	require.NotEqual(t, "conv-1", orch.ID())
}

func TestOrchestratorMiddleware(t *testing.T) {
	t.Run("validator rejects before history changes", func(t *testing.T) {
		llm := &scriptedModel{replies: []string{"unused"}}
		orch := NewOrchestrator(nil, WithModel("test", llm),
			WithMiddleware(validator.NewInputValidator(validator.NonEmpty)))

		_, err := orch.RunTurn(context.Background(), "   ")
		require.ErrorIs(t, err, errorskg.ErrInvalidInput)
		require.Empty(t, orch.History())
		require.Zero(t, llm.requestCount())
	})

	t.Run("response filter shapes the shown reply only", func(t *testing.T) {
		llm := &scriptedModel{replies: []string{"  padded reply \n", "next"}}
		orch := NewOrchestrator(nil, WithModel("test", llm),
			WithMiddleware(validator.NewResponseFilter(validator.TrimResponse)))

		reply, err := orch.RunTurn(context.Background(), "hi")
		require.NoError(t, err)
		require.Equal(t, "padded reply", reply)
		history := orch.History()
		require.Equal(t, message.RoleAssistant, history[len(history)-1].Role)
		require.Equal(t, "  padded reply \n", history[len(history)-1].Content)

		_, err = orch.RunTurn(context.Background(), "again")
		require.NoError(t, err)
		sent := llm.request(1)
		require.Equal(t, "  padded reply \n", sent[len(sent)-2].Content)
	})
}

func TestOrchestratorModelSwitch(t *testing.T) {
	orch := NewOrchestrator(nil)
	_, err := orch.HandleUserTurn(context.Background(), "hi")
	var cfgErr *errorskg.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	orch.SetModel("echo", model.ClientFunc(func(_ context.Context, history []*message.Message) (string, error) {
		return strings.ToUpper(history[len(history)-1].Content), nil
	}))
	require.Equal(t, "echo", orch.Model())

	reply, err := orch.RunTurn(context.Background(), "shout")
	require.NoError(t, err)
	require.Equal(t, "SHOUT", reply)
}

func mustTurn(t *testing.T, orch *Orchestrator, text string) <-chan TurnEvent {
	t.Helper()
	events, err := orch.HandleUserTurn(context.Background(), text)
	require.NoError(t, err)
	return events
}

// memoryStore is a minimal Store for tests inside this package.
type memoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]*Record)}
}

func (s *memoryStore) Save(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *memoryStore) Load(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, errorskg.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *memoryStore) List(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memoryStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}

func (s *memoryStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	return ok, nil
}
