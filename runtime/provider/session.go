package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpotato0/toolchat/config"
	errorskg "github.com/sweetpotato0/toolchat/errors"
	"github.com/sweetpotato0/toolchat/mcp"
	"github.com/sweetpotato0/toolchat/pkg/logging"
	"github.com/sweetpotato0/toolchat/pkg/telemetry"
	"github.com/sweetpotato0/toolchat/tool"
)

// Connector launches a provider and completes the MCP handshake.
type Connector func(ctx context.Context, cfg config.ProviderConfig) (*mcp.Client, error)

// StdioConnector launches providers as subprocesses speaking MCP over stdio.
func StdioConnector(opts ...mcp.Option) Connector {
	return func(ctx context.Context, cfg config.ProviderConfig) (*mcp.Client, error) {
		return mcp.NewStdioClient(ctx, cfg, opts...)
	}
}

// Session owns one provider connection. Every operation against the
// connection runs on the session's own goroutine, one at a time.
type Session struct {
	name       string
	cfg        config.ProviderConfig
	generation uint64
	connect    Connector
	publish    func(Event)
	logger     *slog.Logger
	tracer     trace.Tracer

	mu     sync.RWMutex
	state  State
	cause  error
	client *mcp.Client
	server mcp.ServerInfo
	tools  []*tool.Descriptor

	ctx      context.Context
	cancel   context.CancelFunc
	tasks    chan func(context.Context)
	loopDone chan struct{}

	teardownOnce sync.Once
}

// NewSession creates a session in the Uninitialized state. publish may be nil.
func NewSession(cfg config.ProviderConfig, generation uint64, connect Connector, publish func(Event)) *Session {
	logger := logging.WithComponent("provider").With("provider", cfg.Name, "generation", generation)
	if connect == nil {
		connect = StdioConnector(mcp.WithLogger(logger))
	}
	if publish == nil {
		publish = func(Event) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		name:       cfg.Name,
		cfg:        cfg.Clone(),
		generation: generation,
		connect:    connect,
		publish:    publish,
		logger:     logger,
		tracer:     telemetry.Tracer(),
		ctx:        ctx,
		cancel:     cancel,
		tasks:      make(chan func(context.Context)),
		loopDone:   make(chan struct{}),
	}
	go s.loop()
	return s
}

// Name returns the provider name.
func (s *Session) Name() string { return s.name }

// Generation distinguishes successive sessions for the same provider.
func (s *Session) Generation() uint64 { return s.generation }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Cause returns the error that moved the session to Failed.
func (s *Session) Cause() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cause
}

// Server returns what the provider reported about itself during the
// handshake.
func (s *Session) Server() mcp.ServerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server
}

// Tools returns the cached descriptor list.
func (s *Session) Tools() []*tool.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tools)
}

// Start connects to the provider and, on success, loads its tool list.
// It may be called once; later calls fail without side effects.
func (s *Session) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.state != StateUninitialized {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("provider %s: start in state %s: %w", s.name, state, errorskg.ErrInvalidInput)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "toolchat.provider.start",
		trace.WithAttributes(attribute.String("provider", s.name)))
	defer func() { telemetry.End(span, err) }()

	s.logger.Info("starting provider", "command", s.cfg.Command, "args", s.cfg.Args)

	var client *mcp.Client
	err = s.submit(ctx, func(ctx context.Context) error {
		c, err := s.connect(ctx, s.cfg)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if s.state != StateConnecting {
			s.mu.Unlock()
			_ = c.Close()
			return errorskg.ErrTerminated
		}
		s.client = c
		if info := c.InitializeResult(); info != nil {
			s.server = info.ServerInfo
		}
		s.state = StateReady
		s.mu.Unlock()
		client = c
		return nil
	})
	if err != nil {
		if errors.Is(err, errorskg.ErrTerminated) || s.State() == StateTerminated {
			return fmt.Errorf("provider %s: %w", s.name, errorskg.ErrTerminated)
		}
		terr := &errorskg.TransportError{Provider: s.name, Op: "start", Err: err}
		s.fail(terr)
		return terr
	}

	server := s.Server()
	s.logger.Info("provider ready", "server", server.Name, "version", server.Version)
	s.publish(Event{Kind: EventReady, Provider: s.name, Generation: s.generation, Server: server})
	go s.watch(client)

	_, err = s.ListTools(ctx)
	return err
}

// ListTools refreshes the cached tool list from the provider.
func (s *Session) ListTools(ctx context.Context) ([]*tool.Descriptor, error) {
	client, err := s.readyClient()
	if err != nil {
		return nil, err
	}

	var tools []*tool.Descriptor
	err = s.submit(ctx, func(ctx context.Context) error {
		var err error
		tools, err = client.Descriptors(ctx)
		return err
	})
	if err != nil {
		if s.abandoned(ctx, err) {
			return nil, err
		}
		terr := &errorskg.TransportError{Provider: s.name, Op: "list tools", Err: err}
		s.fail(terr)
		return nil, terr
	}

	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return nil, errorskg.ErrNotReady
	}
	s.tools = tools
	s.mu.Unlock()

	names := make([]string, len(tools))
	for i, d := range tools {
		names[i] = d.Name
	}
	s.logger.Info("provider tools loaded", "count", len(tools))
	s.publish(Event{Kind: EventToolsReady, Provider: s.name, Generation: s.generation, Tools: names})
	return slices.Clone(tools), nil
}

// InvokeTool calls a tool on the provider and returns its textual result.
// Provider-reported failures and schema violations come back as
// *errors.ToolExecutionError and leave the session Ready.
func (s *Session) InvokeTool(ctx context.Context, name string, args map[string]any) (result string, err error) {
	client, err := s.readyClient()
	if err != nil {
		return "", err
	}

	ctx, span := s.tracer.Start(ctx, "toolchat.provider.invoke",
		trace.WithAttributes(attribute.String("provider", s.name), attribute.String("tool", name)))
	defer func() { telemetry.End(span, err) }()

	if desc := s.descriptor(name); desc != nil {
		if verr := desc.ValidateArgs(args); verr != nil {
			return "", &errorskg.ToolExecutionError{Provider: s.name, Tool: name, Message: verr.Error(), Err: errorskg.ErrInvalidInput}
		}
	}

	err = s.submit(ctx, func(ctx context.Context) error {
		var err error
		result, err = client.CallTool(ctx, name, args)
		return err
	})
	if err == nil {
		return result, nil
	}

	var toolErr *mcp.ToolError
	switch {
	case errors.As(err, &toolErr):
		return "", &errorskg.ToolExecutionError{Provider: s.name, Tool: name, Message: toolErr.Message, Err: err}
	case s.abandoned(ctx, err):
		return "", err
	case mcp.IsConnectionError(err) || client.Closed():
		terr := &errorskg.TransportError{Provider: s.name, Op: "call tool", Err: err}
		s.fail(terr)
		return "", terr
	default:
		return "", &errorskg.ToolExecutionError{Provider: s.name, Tool: name, Err: err}
	}
}

// Teardown cancels outstanding work, closes the provider connection and
// stops the session goroutine. It is idempotent.
func (s *Session) Teardown() {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		s.state = StateTerminated
		client := s.client
		s.client = nil
		s.tools = nil
		s.mu.Unlock()

		s.cancel()
		if client != nil {
			if err := client.Close(); err != nil {
				s.logger.Debug("closing provider connection", "error", err)
			}
		}
		<-s.loopDone

		s.logger.Info("provider terminated", "previous_state", prev.String())
		s.publish(Event{Kind: EventTerminated, Provider: s.name, Generation: s.generation})
	})
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case task := <-s.tasks:
			task(s.ctx)
		}
	}
}

// submit runs fn on the session goroutine and waits for it. fn's context is
// cancelled when either the caller's ctx or the session ends.
func (s *Session) submit(ctx context.Context, fn func(context.Context) error) error {
	done := make(chan error, 1)
	task := func(loopCtx context.Context) {
		taskCtx, cancel := context.WithCancel(loopCtx)
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		defer cancel()
		done <- fn(taskCtx)
	}

	select {
	case s.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errorskg.ErrTerminated
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errorskg.ErrTerminated
	}
}

// abandoned reports whether err came from the caller giving up or from
// teardown rather than from the provider.
func (s *Session) abandoned(ctx context.Context, err error) bool {
	if errors.Is(err, errorskg.ErrTerminated) || s.State() == StateTerminated {
		return true
	}
	return ctx.Err() != nil
}

func (s *Session) readyClient() (*mcp.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateReady || s.client == nil {
		return nil, fmt.Errorf("provider %s is %s: %w", s.name, s.state, errorskg.ErrNotReady)
	}
	return s.client, nil
}

func (s *Session) descriptor(name string) *tool.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.tools {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// fail moves the session to Failed and closes the connection. It is a no-op
// once the session is Failed or Terminated.
func (s *Session) fail(cause error) {
	s.mu.Lock()
	if !canTransition(s.state, StateFailed) {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.cause = cause
	client := s.client
	s.client = nil
	s.tools = nil
	s.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
	s.logger.Warn("provider failed", "error", cause)
	s.publish(Event{Kind: EventFailed, Provider: s.name, Generation: s.generation, Err: cause})
}

// watch re-lists tools when the provider announces a change and fails the
// session when the connection drops.
func (s *Session) watch(client *mcp.Client) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-client.Done():
			s.fail(&errorskg.TransportError{Provider: s.name, Op: "session", Err: mcp.ErrClientClosed})
			return
		case <-client.ToolsChanged():
			if _, err := s.ListTools(s.ctx); err != nil {
				s.logger.Warn("refreshing tools after change notification", "error", err)
			}
		}
	}
}
