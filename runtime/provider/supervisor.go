// Package provider supervises tool provider sessions: it starts, restarts and
// tears them down, merges their tool catalogs and routes invocations.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweetpotato0/toolchat/config"
	errorskg "github.com/sweetpotato0/toolchat/errors"
	"github.com/sweetpotato0/toolchat/mcp"
	"github.com/sweetpotato0/toolchat/pkg/logging"
	"github.com/sweetpotato0/toolchat/tool"
)

const defaultStartTimeout = 60 * time.Second

// Result is the outcome of a routed invocation. Content is always suitable
// for the conversation, including when OK is false.
type Result struct {
	Provider string
	Tool     string
	Content  string
	OK       bool
	Err      error
}

// Status summarises one provider for display.
type Status struct {
	Name       string
	State      State
	Cause      error
	Tools      int
	Generation uint64
	Server     mcp.ServerInfo
}

// Supervisor owns at most one live Session per provider name.
type Supervisor struct {
	connect      Connector
	startTimeout time.Duration
	logger       *slog.Logger
	bus          *Bus

	// lifecycle serializes AddProvider, Restart and ShutdownAll so an old
	// session is fully torn down before its replacement connects.
	lifecycle sync.Mutex

	mu         sync.RWMutex
	order      []string
	configs    map[string]config.ProviderConfig
	sessions   map[string]*Session
	generation uint64
	closed     bool

	wg       sync.WaitGroup
	snapshot atomic.Pointer[tool.Registry]

	reportMu sync.Mutex
	reported map[tool.Collision]struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithConnector overrides how providers are launched.
func WithConnector(connect Connector) Option {
	return func(s *Supervisor) {
		if connect != nil {
			s.connect = connect
		}
	}
}

// WithStartTimeout bounds the handshake and initial tool listing.
func WithStartTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.startTimeout = d
		}
	}
}

// WithLogger sets the supervisor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventBuffer sets the per-subscriber event buffer.
func WithEventBuffer(n int) Option {
	return func(s *Supervisor) {
		s.bus = NewBus(n, s.logger)
	}
}

// NewSupervisor constructs an empty Supervisor. Without WithConnector,
// providers are launched over stdio and their stderr goes to the supervisor
// logger.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		startTimeout: defaultStartTimeout,
		logger:       logging.WithComponent("supervisor"),
		configs:      make(map[string]config.ProviderConfig),
		sessions:     make(map[string]*Session),
		reported:     make(map[tool.Collision]struct{}),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	if s.connect == nil {
		s.connect = StdioConnector(mcp.WithLogger(s.logger))
	}
	if s.bus == nil {
		s.bus = NewBus(defaultEventBuffer, s.logger)
	}
	s.snapshot.Store(tool.NewRegistry())
	return s
}

// Events subscribes to provider events. Call cancel to unsubscribe.
func (s *Supervisor) Events() (<-chan Event, func()) {
	return s.bus.Subscribe()
}

// AddProvider registers cfg and starts its session in the background.
func (s *Supervisor) AddProvider(ctx context.Context, cfg config.ProviderConfig) error {
	if err := cfg.Validate(); err != nil {
		return &errorskg.ConfigError{Subject: "provider " + cfg.Name, Err: err}
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errorskg.ErrTerminated
	}
	if _, exists := s.configs[cfg.Name]; exists {
		s.mu.Unlock()
		return &errorskg.ConfigError{Subject: "provider " + cfg.Name, Err: errorskg.ErrAlreadyExists}
	}
	s.configs[cfg.Name] = cfg.Clone()
	s.order = append(s.order, cfg.Name)
	s.mu.Unlock()

	s.launch(ctx, cfg.Name)
	return nil
}

// Restart tears down the current session for name, waiting until its
// connection is closed, then starts a fresh one.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.RLock()
	closed := s.closed
	_, known := s.configs[name]
	old := s.sessions[name]
	s.mu.RUnlock()

	if closed {
		return errorskg.ErrTerminated
	}
	if !known {
		return &errorskg.ConfigError{Subject: "provider " + name, Err: errorskg.ErrNotFound}
	}
	if old != nil {
		old.Teardown()
	}
	s.logger.Info("restarting provider", "provider", name)
	s.launch(ctx, name)
	return nil
}

// RefreshAll restarts every configured provider.
func (s *Supervisor) RefreshAll(ctx context.Context) error {
	for _, name := range s.Names() {
		if err := s.Restart(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// launch must be called with lifecycle held.
func (s *Supervisor) launch(ctx context.Context, name string) {
	s.mu.Lock()
	cfg := s.configs[name]
	s.generation++
	sess := NewSession(cfg, s.generation, s.connect, s.bus.Publish)
	s.sessions[name] = sess
	s.mu.Unlock()

	startCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(startCtx, s.startTimeout)
		defer cancel()
		if err := sess.Start(ctx); err != nil {
			s.logger.Warn("provider start failed", "provider", name, "generation", sess.Generation(), "error", err)
		}
	}()
}

// Session returns the current session for name.
func (s *Supervisor) Session(name string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[name]
	return sess, ok
}

// Names returns the configured providers in registration order.
func (s *Supervisor) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Status reports every configured provider in registration order.
func (s *Supervisor) Status() []Status {
	s.mu.RLock()
	order := append([]string(nil), s.order...)
	sessions := make(map[string]*Session, len(s.sessions))
	for k, v := range s.sessions {
		sessions[k] = v
	}
	s.mu.RUnlock()

	out := make([]Status, 0, len(order))
	for _, name := range order {
		st := Status{Name: name}
		if sess := sessions[name]; sess != nil {
			st.State = sess.State()
			st.Cause = sess.Cause()
			st.Tools = len(sess.Tools())
			st.Generation = sess.Generation()
			st.Server = sess.Server()
		}
		out = append(out, st)
	}
	return out
}

// AggregateTools merges the cached catalogs of every Ready session into a new
// registry snapshot. Sessions that are not Ready contribute nothing.
func (s *Supervisor) AggregateTools() *tool.Registry {
	s.mu.RLock()
	catalogs := make([]tool.Catalog, 0, len(s.order))
	for _, name := range s.order {
		sess := s.sessions[name]
		if sess == nil || sess.State() != StateReady {
			continue
		}
		catalogs = append(catalogs, tool.Catalog{Provider: name, Tools: sess.Tools()})
	}
	s.mu.RUnlock()

	reg := tool.NewRegistry(catalogs...)
	s.snapshot.Store(reg)
	s.reportCollisions(reg.Collisions())
	return reg
}

// Snapshot returns the registry built by the last AggregateTools call.
func (s *Supervisor) Snapshot() *tool.Registry {
	return s.snapshot.Load()
}

func (s *Supervisor) reportCollisions(collisions []tool.Collision) {
	if len(collisions) == 0 {
		return
	}
	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	for _, c := range collisions {
		if _, seen := s.reported[c]; seen {
			continue
		}
		s.reported[c] = struct{}{}
		s.logger.Warn("tool name collision", "tool", c.Tool, "kept", c.Kept, "shadowed", c.Shadowed)
	}
}

// RouteInvoke finds the provider that owns toolName in a fresh aggregate and
// invokes the tool there. Failures are folded into the result text.
func (s *Supervisor) RouteInvoke(ctx context.Context, toolName string, args map[string]any) Result {
	res := Result{Tool: toolName}

	entry, ok := s.AggregateTools().Lookup(toolName)
	if !ok {
		res.Err = fmt.Errorf("tool %s: %w", toolName, errorskg.ErrNotFound)
		res.Content = "tool not found: " + toolName
		s.publishResult(res)
		return res
	}
	res.Provider = entry.Provider

	sess, ok := s.Session(entry.Provider)
	if !ok {
		res.Err = fmt.Errorf("provider %s: %w", entry.Provider, errorskg.ErrNotReady)
		res.Content = fmt.Sprintf("tool execution failed: %v", res.Err)
		s.publishResult(res)
		return res
	}

	out, err := sess.InvokeTool(ctx, toolName, args)
	if err != nil {
		res.Err = err
		res.Content = fmt.Sprintf("tool execution failed: %v", err)
	} else {
		res.OK = true
		res.Content = out
	}
	s.publishResult(res)
	return res
}

func (s *Supervisor) publishResult(res Result) {
	ev := Event{Provider: res.Provider, Tool: res.Tool, Result: res.Content, Err: res.Err}
	if res.OK {
		ev.Kind = EventToolResult
	} else {
		ev.Kind = EventToolFailed
	}
	s.bus.Publish(ev)
}

// ShutdownAll tears down every session concurrently and waits for pending
// starts to return. The supervisor accepts no new providers afterwards.
func (s *Supervisor) ShutdownAll(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	s.closed = true
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, sess := range sessions {
		g.Go(func() error {
			sess.Teardown()
			return nil
		})
	}
	_ = g.Wait()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.snapshot.Store(tool.NewRegistry())
	s.bus.Close()
	s.logger.Info("all providers shut down", "count", len(sessions))
	return nil
}
