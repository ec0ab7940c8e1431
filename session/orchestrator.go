package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	errorskg "github.com/sweetpotato0/toolchat/errors"
	"github.com/sweetpotato0/toolchat/message"
	"github.com/sweetpotato0/toolchat/middleware"
	"github.com/sweetpotato0/toolchat/model"
	"github.com/sweetpotato0/toolchat/pkg/logging"
	"github.com/sweetpotato0/toolchat/pkg/telemetry"
	"github.com/sweetpotato0/toolchat/prompt"
	"github.com/sweetpotato0/toolchat/runtime/provider"
	"github.com/sweetpotato0/toolchat/tool"
)

// ToolResultPrefix starts every tool_result message in the history.
const ToolResultPrefix = "Tool execution result: "

const turnEventBuffer = 4

// Router exposes the tools of the running providers.
type Router interface {
	AggregateTools() *tool.Registry
	RouteInvoke(ctx context.Context, toolName string, args map[string]any) provider.Result
}

// TurnEventKind labels a TurnEvent.
type TurnEventKind string

const (
	// TurnResponse carries the raw model output that requested a tool.
	TurnResponse TurnEventKind = "response"
	// TurnToolResult carries the routed tool's textual result.
	TurnToolResult TurnEventKind = "tool-result"
	// TurnFinal carries the assistant reply that ends the turn.
	TurnFinal TurnEventKind = "final"
	// TurnError reports why the turn was aborted.
	TurnError TurnEventKind = "error"
)

// TurnEvent is one step of a turn as observed by the caller.
type TurnEvent struct {
	Kind    TurnEventKind
	Content string
	Tool    string
	OK      bool
	Err     error
}

// Orchestrator drives one conversation: it prompts the model with the tools
// currently available, routes at most one tool call per turn and records
// every step in the history.
type Orchestrator struct {
	router  Router
	store   Store
	chain   *middleware.MiddlewareChain
	prompts *prompt.Manager
	logger  *slog.Logger
	tracer  trace.Tracer
	conv    *Conversation

	modelMu   sync.RWMutex
	model     model.Client
	modelName string

	inFlight atomic.Bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithModel sets the completion client and the name recorded in transcripts.
func WithModel(name string, client model.Client) Option {
	return func(o *Orchestrator) {
		o.model = client
		o.modelName = name
	}
}

// WithStore saves the transcript after every turn.
func WithStore(s Store) Option {
	return func(o *Orchestrator) {
		o.store = s
	}
}

// WithMiddleware wraps every turn in the given middlewares, outermost first.
func WithMiddleware(ms ...middleware.Middleware) Option {
	return func(o *Orchestrator) {
		for _, m := range ms {
			o.chain.Add(m)
		}
	}
}

// WithPromptManager overrides the templates used for the system prompt.
func WithPromptManager(m *prompt.Manager) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.prompts = m
		}
	}
}

// WithLogger overrides the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithConversationID fixes the identifier of the first dialogue.
func WithConversationID(id string) Option {
	return func(o *Orchestrator) {
		if id != "" {
			o.conv = NewConversation(id)
		}
	}
}

// NewOrchestrator creates an orchestrator over router. A nil router offers no
// tools.
func NewOrchestrator(router Router, opts ...Option) *Orchestrator {
	if router == nil {
		router = noTools{}
	}
	o := &Orchestrator{
		router:  router,
		chain:   middleware.NewChain(),
		prompts: prompt.NewManager(),
		logger:  logging.WithComponent("orchestrator"),
		tracer:  telemetry.Tracer(),
		conv:    NewConversation(uuid.NewString()),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(o)
	}
	return o
}

// ID returns the current conversation identifier.
func (o *Orchestrator) ID() string {
	return o.conv.ID()
}

// SetModel switches the completion client used by later turns.
func (o *Orchestrator) SetModel(name string, client model.Client) {
	o.modelMu.Lock()
	defer o.modelMu.Unlock()
	o.model = client
	o.modelName = name
}

// Model returns the name of the current model.
func (o *Orchestrator) Model() string {
	o.modelMu.RLock()
	defer o.modelMu.RUnlock()
	return o.modelName
}

// History returns a copy of the conversation so far.
func (o *Orchestrator) History() []*message.Message {
	return o.conv.Messages()
}

// Reset starts a new dialogue with an empty history. The previous transcript
// stays in the store under its own id.
func (o *Orchestrator) Reset() error {
	if !o.inFlight.CompareAndSwap(false, true) {
		return errorskg.ErrTurnInFlight
	}
	defer o.inFlight.Store(false)
	o.conv.Reset(uuid.NewString())
	o.logger.Info("conversation reset", "conversation", o.conv.ID())
	return nil
}

// Resume replaces the history with the stored transcript id.
func (o *Orchestrator) Resume(ctx context.Context, id string) error {
	if o.store == nil {
		return fmt.Errorf("resume %s: no transcript store configured: %w", id, errorskg.ErrInvalidInput)
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		return errorskg.ErrTurnInFlight
	}
	defer o.inFlight.Store(false)

	rec, err := o.store.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("resume %s: %w", id, err)
	}
	o.conv.Restore(rec)
	o.logger.Info("conversation resumed", "conversation", id, "messages", len(rec.Messages))
	return nil
}

// HandleUserTurn starts a turn for text and returns its event stream. The
// channel is closed after a final or error event. Only one turn may be in
// flight at a time.
func (o *Orchestrator) HandleUserTurn(ctx context.Context, text string) (<-chan TurnEvent, error) {
	o.modelMu.RLock()
	client := o.model
	o.modelMu.RUnlock()
	if client == nil {
		return nil, &errorskg.ConfigError{Subject: "model", Err: errorskg.ErrNotFound}
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, errorskg.ErrTurnInFlight
	}

	events := make(chan TurnEvent, turnEventBuffer)
	go o.runTurn(ctx, client, text, events)
	return events, nil
}

// RunTurn runs a turn to completion and returns the final reply.
func (o *Orchestrator) RunTurn(ctx context.Context, text string) (string, error) {
	events, err := o.HandleUserTurn(ctx, text)
	if err != nil {
		return "", err
	}
	var (
		reply   string
		turnErr error
	)
	for ev := range events {
		switch ev.Kind {
		case TurnFinal:
			reply = ev.Content
		case TurnError:
			turnErr = ev.Err
		}
	}
	return reply, turnErr
}

func (o *Orchestrator) runTurn(ctx context.Context, client model.Client, text string, events chan<- TurnEvent) {
	defer func() {
		o.inFlight.Store(false)
		close(events)
	}()

	var err error
	ctx, span := o.tracer.Start(ctx, "toolchat.turn",
		trace.WithAttributes(attribute.String("conversation", o.conv.ID())))
	defer func() { telemetry.End(span, err) }()

	mctx := middleware.NewContext(ctx)
	mctx.Input = text
	mctx.Messages = o.conv.Messages()
	mctx.Metadata[middleware.MetadataConversationID] = o.conv.ID()

	// Response filters shape what is shown; history keeps the reply as the
	// model returned it.
	var reply *message.Message
	err = o.chain.Execute(mctx, func(mc *middleware.Context) error {
		if err := o.turn(mc, client, events); err != nil {
			return err
		}
		reply = message.Clone(mc.Response)
		return nil
	})
	switch {
	case err != nil:
		events <- TurnEvent{Kind: TurnError, Content: err.Error(), Err: err}
	case mctx.Response == nil:
		err = errors.New("turn produced no reply")
		events <- TurnEvent{Kind: TurnError, Content: err.Error(), Err: err}
	default:
		if reply == nil {
			reply = mctx.Response
		}
		o.conv.Append(reply)
		events <- TurnEvent{Kind: TurnFinal, Content: mctx.Response.Content}
	}

	o.save(ctx)
}

// turn appends user, and when the model asks for a tool, assistant and
// tool_result messages. The final reply is left in mc.Response.
func (o *Orchestrator) turn(mc *middleware.Context, client model.Client, events chan<- TurnEvent) error {
	ctx := mc.Context()

	system, err := o.prompts.System(o.router.AggregateTools().Descriptors())
	if err != nil {
		return fmt.Errorf("build system prompt: %w", err)
	}
	o.conv.SetSystem(system)
	o.conv.Append(message.NewMessage(message.RoleUser, mc.Input))

	first, err := o.complete(ctx, client)
	if err != nil {
		return err
	}

	call, ok := tool.ParseInvocation(first)
	if !ok {
		mc.Response = message.NewMessage(message.RoleAssistant, first)
		return nil
	}

	events <- TurnEvent{Kind: TurnResponse, Content: first, Tool: call.Tool}
	o.conv.Append(message.NewMessage(message.RoleAssistant, first))

	o.logger.Info("routing tool call", "tool", call.Tool)
	res := o.router.RouteInvoke(ctx, call.Tool, call.Arguments)
	mc.Metadata[middleware.MetadataTool] = call.Tool
	mc.Metadata[middleware.MetadataToolOK] = res.OK
	if !res.OK {
		o.logger.Warn("tool call failed", "tool", call.Tool, "provider", res.Provider, "error", res.Err)
	}

	o.conv.Append(message.NewMessage(message.RoleToolResult, ToolResultPrefix+res.Content))
	events <- TurnEvent{Kind: TurnToolResult, Content: res.Content, Tool: call.Tool, OK: res.OK, Err: res.Err}

	second, err := o.complete(ctx, client)
	if err != nil {
		return err
	}
	mc.Response = message.NewMessage(message.RoleAssistant, second)
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, client model.Client) (reply string, err error) {
	history := o.conv.Messages()
	ctx, span := o.tracer.Start(ctx, "toolchat.model.completion",
		trace.WithAttributes(attribute.String("model", o.Model()), attribute.Int("messages", len(history))))
	defer func() { telemetry.End(span, err) }()

	return client.GetCompletion(ctx, history)
}

func (o *Orchestrator) save(ctx context.Context) {
	if o.store == nil {
		return
	}
	rec := o.conv.Record()
	rec.Model = o.Model()
	if err := o.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Warn("saving transcript", "conversation", rec.ID, "error", err)
	}
}

// noTools is the Router of an orchestrator without providers.
type noTools struct{}

func (noTools) AggregateTools() *tool.Registry { return tool.NewRegistry() }

func (noTools) RouteInvoke(_ context.Context, name string, _ map[string]any) provider.Result {
	return provider.Result{
		Tool:    name,
		Content: "tool not found: " + name,
		Err:     fmt.Errorf("tool %s: %w", name, errorskg.ErrNotFound),
	}
}
