package provider

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/toolchat/config"
	"github.com/sweetpotato0/toolchat/mcp"
)

type addArgs struct {
	A int `json:"a" jsonschema:"first addend"`
	B int `json:"b" jsonschema:"second addend"`
}

type mulArgs struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func addTool(server *sdkmcp.Server) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "add", Description: "Add two integers"},
		func(_ context.Context, _ *sdkmcp.CallToolRequest, in addArgs) (*sdkmcp.CallToolResult, any, error) {
			return textResult(strconv.Itoa(in.A + in.B)), nil, nil
		})
}

func mulTool(server *sdkmcp.Server) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "mul", Description: "Multiply two integers"},
		func(_ context.Context, _ *sdkmcp.CallToolRequest, in mulArgs) (*sdkmcp.CallToolResult, any, error) {
			return textResult(strconv.Itoa(in.X * in.Y)), nil, nil
		})
}

func explodeTool(server *sdkmcp.Server) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{Name: "explode", Description: "Always fails"},
		func(context.Context, *sdkmcp.CallToolRequest, struct{}) (*sdkmcp.CallToolResult, any, error) {
			res := textResult("boom")
			res.IsError = true
			return res, nil, nil
		})
}

func textResult(text string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}}}
}

func newServer(name string, tools ...func(*sdkmcp.Server)) *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: name, Version: "1.0.0"}, nil)
	for _, add := range tools {
		add(server)
	}
	return server
}

// fakeProviders connects provider names to in-memory MCP servers and records
// whether a new connection was ever opened while the previous one for the
// same provider was still open.
type fakeProviders struct {
	mu             sync.Mutex
	servers        map[string]*sdkmcp.Server
	failing        map[string]error
	block          map[string]bool
	clients        map[string]*mcp.Client
	serverSessions map[string]*sdkmcp.ServerSession
	connects       map[string]int
	overlaps       int
}

func newFakeProviders() *fakeProviders {
	return &fakeProviders{
		servers:        make(map[string]*sdkmcp.Server),
		failing:        make(map[string]error),
		block:          make(map[string]bool),
		clients:        make(map[string]*mcp.Client),
		serverSessions: make(map[string]*sdkmcp.ServerSession),
		connects:       make(map[string]int),
	}
}

func (f *fakeProviders) add(name string, server *sdkmcp.Server) config.ProviderConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers[name] = server
	return config.ProviderConfig{Name: name, Command: name}
}

func (f *fakeProviders) fail(name string, err error) config.ProviderConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[name] = err
	return config.ProviderConfig{Name: name, Command: name}
}

func (f *fakeProviders) hang(name string) config.ProviderConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block[name] = true
	return config.ProviderConfig{Name: name, Command: name}
}

func (f *fakeProviders) connect(ctx context.Context, cfg config.ProviderConfig) (*mcp.Client, error) {
	f.mu.Lock()
	if err := f.failing[cfg.Name]; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if f.block[cfg.Name] {
		f.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	server, ok := f.servers[cfg.Name]
	if !ok {
		f.mu.Unlock()
		return nil, errors.New("no such server")
	}
	if prev := f.clients[cfg.Name]; prev != nil && !prev.Closed() {
		f.overlaps++
	}
	f.mu.Unlock()

	serverTransport, clientTransport := sdkmcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		return nil, err
	}
	client, err := mcp.Connect(ctx, clientTransport)
	if err != nil {
		_ = serverSession.Close()
		return nil, err
	}

	f.mu.Lock()
	f.clients[cfg.Name] = client
	f.serverSessions[cfg.Name] = serverSession
	f.connects[cfg.Name]++
	f.mu.Unlock()
	return client, nil
}

func (f *fakeProviders) serverSession(name string) *sdkmcp.ServerSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.serverSessions[name]
}

func (f *fakeProviders) overlapCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlaps
}

func (f *fakeProviders) connectCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects[name]
}

// eventLog collects published events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) publish(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]EventKind, len(l.events))
	for i, e := range l.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
