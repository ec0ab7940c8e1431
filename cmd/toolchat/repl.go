package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sweetpotato0/toolchat/config"
	"github.com/sweetpotato0/toolchat/contrib/provider"
	"github.com/sweetpotato0/toolchat/mcp"
	runtimeprovider "github.com/sweetpotato0/toolchat/runtime/provider"
	"github.com/sweetpotato0/toolchat/session"
)

const helpText = `Commands:
  /tools            list the tools of every ready provider
  /status           show provider states
  /restart NAME     restart one provider
  /refresh          restart every provider
  /models           list configured models
  /model ID         switch model
  /param KEY=VALUE  set a model parameter, /param clear resets to defaults
  /reset            start a new conversation
  /history          print the conversation
  /help             show this help
  /quit             exit
Anything else is sent to the model.`

// syncWriter serializes writes from the REPL and the event printer.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type repl struct {
	sup     *runtimeprovider.Supervisor
	orch    *session.Orchestrator
	catalog *config.Catalog
	apiKey  string
	model   string
	params  map[string]any
	out     io.Writer
}

// handle runs one input line and reports whether the REPL should exit.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.chat(ctx, line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/tools":
		r.printTools()
	case "/status":
		r.printStatus()
	case "/restart":
		if arg == "" {
			fmt.Fprintln(r.out, "usage: /restart NAME")
			return false
		}
		if err := r.sup.Restart(ctx, arg); err != nil {
			fmt.Fprintf(r.out, "restart failed: %v\n", err)
		}
	case "/refresh":
		if err := r.sup.RefreshAll(ctx); err != nil {
			fmt.Fprintf(r.out, "refresh failed: %v\n", err)
		}
	case "/models":
		r.printModels()
	case "/model":
		if err := r.switchModel(arg); err != nil {
			fmt.Fprintf(r.out, "model switch failed: %v\n", err)
		}
	case "/param":
		if err := r.setParam(arg); err != nil {
			fmt.Fprintf(r.out, "parameter not set: %v\n", err)
		}
	case "/reset":
		if err := r.orch.Reset(); err != nil {
			fmt.Fprintf(r.out, "reset failed: %v\n", err)
			return false
		}
		fmt.Fprintf(r.out, "new conversation %s\n", r.orch.ID())
	case "/history":
		for _, msg := range r.orch.History() {
			fmt.Fprintf(r.out, "[%s] %s\n", msg.Role, msg.Content)
		}
	default:
		fmt.Fprintf(r.out, "unknown command %s, try /help\n", cmd)
	}
	return false
}

func (r *repl) chat(ctx context.Context, text string) {
	events, err := r.orch.HandleUserTurn(ctx, text)
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return
	}
	for ev := range events {
		switch ev.Kind {
		case session.TurnResponse:
			fmt.Fprintf(r.out, "… calling %s\n", ev.Tool)
		case session.TurnToolResult:
			status := "ok"
			if !ev.OK {
				status = "failed"
			}
			fmt.Fprintf(r.out, "tool %s %s: %s\n", ev.Tool, status, ev.Content)
		case session.TurnFinal:
			fmt.Fprintf(r.out, "assistant: %s\n", ev.Content)
		case session.TurnError:
			fmt.Fprintf(r.out, "error: %v\n", ev.Err)
		}
	}
}

func (r *repl) printTools() {
	reg := r.sup.AggregateTools()
	if reg.Len() == 0 {
		fmt.Fprintln(r.out, "no tools available")
		return
	}
	for _, e := range reg.Entries() {
		fmt.Fprintf(r.out, "%s (%s): %s\n", e.Descriptor.Name, e.Provider, e.Descriptor.Description)
		for _, p := range e.Descriptor.Parameters {
			marker := ""
			if p.Required {
				marker = " (required)"
			}
			fmt.Fprintf(r.out, "  - %s: %s%s\n", p.Name, p.Description, marker)
		}
	}
	for _, c := range reg.Collisions() {
		fmt.Fprintf(r.out, "note: %s from %s is shadowed by %s\n", c.Tool, c.Shadowed, c.Kept)
	}
}

func (r *repl) printStatus() {
	status := r.sup.Status()
	if len(status) == 0 {
		fmt.Fprintln(r.out, "no providers configured")
		return
	}
	for _, st := range status {
		fmt.Fprintf(r.out, "%-16s %-13s tools=%d gen=%d", st.Name, st.State, st.Tools, st.Generation)
		if st.Server.Name != "" {
			fmt.Fprintf(r.out, " server=%s", serverLabel(st.Server))
		}
		if st.Cause != nil {
			fmt.Fprintf(r.out, " cause=%v", st.Cause)
		}
		fmt.Fprintln(r.out)
	}
}

func (r *repl) printModels() {
	if r.catalog == nil {
		fmt.Fprintln(r.out, "no model catalog loaded")
		return
	}
	for _, m := range r.catalog.Models {
		marker := " "
		if m.ID == r.model {
			marker = "*"
		}
		name := m.DisplayName
		if name == "" {
			name = m.ID
		}
		fmt.Fprintf(r.out, "%s %s  %s  %s\n", marker, m.ID, name, m.Description)
	}
}

func (r *repl) switchModel(id string) error {
	if r.catalog == nil {
		return fmt.Errorf("no model catalog loaded")
	}
	client, err := provider.NewClientFromCatalog(r.catalog, id, r.apiKey, r.params)
	if err != nil {
		return err
	}
	r.model = r.catalog.ResolveModelID(id)
	r.orch.SetModel(r.model, client)
	fmt.Fprintf(r.out, "model %s\n", r.model)
	return nil
}

func (r *repl) setParam(arg string) error {
	if arg == "clear" {
		r.params = nil
		return r.switchModel(r.model)
	}
	key, raw, ok := strings.Cut(arg, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("usage: /param KEY=VALUE")
	}
	params := maps.Clone(r.params)
	if params == nil {
		params = make(map[string]any)
	}
	params[key] = parseValue(strings.TrimSpace(raw))
	r.params = params
	if err := r.switchModel(r.model); err != nil {
		return err
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(r.out, "parameters: %s\n", strings.Join(keys, ", "))
	return nil
}

func parseValue(raw string) any {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

// printEvents writes provider lifecycle events until events is closed.
func printEvents(out io.Writer, events <-chan runtimeprovider.Event) {
	for ev := range events {
		switch ev.Kind {
		case runtimeprovider.EventReady:
			if ev.Server.Name != "" {
				fmt.Fprintf(out, "* %s connected to %s\n", ev.Provider, serverLabel(ev.Server))
			} else {
				fmt.Fprintf(out, "* %s connected\n", ev.Provider)
			}
		case runtimeprovider.EventToolsReady:
			fmt.Fprintf(out, "* %s tools: %s\n", ev.Provider, strings.Join(ev.Tools, ", "))
		case runtimeprovider.EventFailed:
			fmt.Fprintf(out, "* %s failed: %v\n", ev.Provider, ev.Err)
		case runtimeprovider.EventTerminated:
			fmt.Fprintf(out, "* %s stopped\n", ev.Provider)
		}
	}
}

func serverLabel(info mcp.ServerInfo) string {
	if info.Version == "" {
		return info.Name
	}
	return info.Name + " " + info.Version
}
