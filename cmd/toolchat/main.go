// Command toolchat is a terminal chat client that lets a model call the tools
// of MCP providers launched as subprocesses.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweetpotato0/toolchat/config"
	"github.com/sweetpotato0/toolchat/contrib/provider"
	"github.com/sweetpotato0/toolchat/mcp"
	"github.com/sweetpotato0/toolchat/middleware"
	"github.com/sweetpotato0/toolchat/middleware/errorhandler"
	"github.com/sweetpotato0/toolchat/middleware/limiter"
	"github.com/sweetpotato0/toolchat/middleware/logger"
	"github.com/sweetpotato0/toolchat/middleware/validator"
	"github.com/sweetpotato0/toolchat/pkg/logging"
	"github.com/sweetpotato0/toolchat/pkg/telemetry"
	runtimeprovider "github.com/sweetpotato0/toolchat/runtime/provider"
	"github.com/sweetpotato0/toolchat/session"
	"github.com/sweetpotato0/toolchat/session/store"
)

const maxInputLength = 32000

var version = "0.1.0"

func main() {
	var (
		serversPath = flag.String("servers", "servers_config.json", "Provider configuration file (mcpServers map, JSON or YAML)")
		modelsPath  = flag.String("models", "models_config.json", "Model catalog file (JSON or YAML)")
		modelID     = flag.String("model", "", "Model to use, defaults to the catalog default")
		redisAddr   = flag.String("redis", "", "Redis address for transcripts")
		postgresDSN = flag.String("postgres", "", "PostgreSQL connection string for transcripts")
		mongoURI    = flag.String("mongo", "", "MongoDB URI for transcripts")
		resume      = flag.String("resume", "", "Conversation id to resume from the transcript store")
		rate        = flag.Int("rate", 0, "Maximum turns per minute, unlimited when zero")
		startup     = flag.Duration("start-timeout", 60*time.Second, "Provider handshake timeout")
		keepAlive   = flag.Duration("keepalive", 0, "Interval between provider pings, disabled when zero")
		terminate   = flag.Duration("terminate-timeout", 5*time.Second, "Grace period for providers to exit before SIGTERM")
		traces      = flag.Bool("trace-stdout", false, "Print spans to stderr when no OTLP endpoint is set")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLog := logging.WithComponent("toolchat")

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "toolchat",
		ServiceVersion: version,
		Stdout:         *traces,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	catalog, err := config.LoadCatalog(*modelsPath)
	if err == nil {
		err = catalog.Validate()
	}
	if err != nil {
		log.Fatalf("load models: %v", err)
	}

	apiKey := os.Getenv("TOOLCHAT_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("LLM_API_KEY")
	}
	if apiKey == "" {
		appLog.Warn("no API key set, export TOOLCHAT_API_KEY")
	}

	client, err := provider.NewClientFromCatalog(catalog, *modelID, apiKey, nil)
	if err != nil {
		log.Fatalf("create model client: %v", err)
	}
	model := catalog.ResolveModelID(*modelID)

	transcripts, closeStore, err := openStore(ctx, storeFlags{redis: *redisAddr, postgres: *postgresDSN, mongo: *mongoURI})
	if err != nil {
		log.Fatalf("open transcript store: %v", err)
	}
	defer closeStore()

	sup := runtimeprovider.NewSupervisor(
		runtimeprovider.WithStartTimeout(*startup),
		runtimeprovider.WithConnector(runtimeprovider.StdioConnector(
			mcp.WithClientInfo(mcp.ClientInfo{Name: "toolchat", Title: "toolchat", Version: version}),
			mcp.WithLogger(logging.WithComponent("mcp")),
			mcp.WithKeepAlive(*keepAlive),
			mcp.WithTerminateTimeout(*terminate),
		)),
	)
	out := &syncWriter{w: os.Stdout}
	events, unsubscribe := sup.Events()
	defer unsubscribe()
	go printEvents(out, events)

	providers, err := config.LoadProviders(*serversPath)
	if err != nil {
		log.Fatalf("load providers: %v", err)
	}
	for _, cfg := range providers {
		if err := sup.AddProvider(ctx, cfg); err != nil {
			appLog.Error("provider not added", "provider", cfg.Name, "error", err)
		}
	}

	chain, err := turnMiddleware(*rate)
	if err != nil {
		log.Fatalf("middleware: %v", err)
	}

	orch := session.NewOrchestrator(sup,
		session.WithModel(model, client),
		session.WithStore(transcripts),
		session.WithMiddleware(chain...),
	)
	if *resume != "" {
		if err := orch.Resume(ctx, *resume); err != nil {
			log.Fatalf("resume: %v", err)
		}
	}

	r := &repl{sup: sup, orch: orch, catalog: catalog, apiKey: apiKey, model: model, out: out}
	fmt.Fprintf(out, "toolchat %s, model %s, conversation %s. Type /help for commands.\n", version, model, orch.ID())
	runLoop(ctx, r)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sup.ShutdownAll(shutdownCtx); err != nil {
		appLog.Warn("provider shutdown incomplete", "error", err)
	}
}

// turnMiddleware builds the chain every turn runs through. The response
// filter only trims what is printed, the stored reply is left as returned.
func turnMiddleware(rate int) ([]middleware.Middleware, error) {
	chain := []middleware.Middleware{
		errorhandler.NewErrorHandler(errorhandler.Describe),
		logger.NewTurnLogger(nil),
		validator.NewInputValidator(validator.All(validator.NonEmpty, validator.MaxLength(maxInputLength))),
		validator.NewResponseFilter(validator.TrimResponse),
	}
	if rate > 0 {
		rl, err := limiter.NewRateLimiter(rate, 1)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		chain = append(chain, rl)
	}
	return chain, nil
}

// runLoop reads stdin line by line until /quit, EOF or a signal.
func runLoop(ctx context.Context, r *repl) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*maxInputLength)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(r.out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return
		case line, ok := <-lines:
			if !ok || r.handle(ctx, line) {
				return
			}
		}
	}
}

type storeFlags struct {
	redis    string
	postgres string
	mongo    string
}

// openStore picks the first configured backend, falling back to memory.
func openStore(ctx context.Context, f storeFlags) (session.Store, func(), error) {
	switch {
	case f.redis != "":
		rs, err := store.NewRedisStore(store.DefaultRedisConfig(f.redis))
		if err != nil {
			return nil, nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, fmt.Errorf("ping %s: %w", f.redis, err)
		}
		return rs, func() { _ = rs.Close() }, nil
	case f.postgres != "":
		ps, err := store.NewPostgresStore(ctx, &store.PostgresConfig{DSN: f.postgres})
		if err != nil {
			return nil, nil, err
		}
		return ps, func() { _ = ps.Close() }, nil
	case f.mongo != "":
		ms, err := store.NewMongoStore(ctx, store.DefaultMongoConfig(f.mongo))
		if err != nil {
			return nil, nil, err
		}
		return ms, func() { _ = ms.Close(context.Background()) }, nil
	default:
		return store.NewInMemoryStore(), func() {}, nil
	}
}
