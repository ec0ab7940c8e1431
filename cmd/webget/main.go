// Command webget is an MCP tool provider that fetches web pages and extracts
// their links and text. It speaks MCP over stdio unless -http is set.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/toolchat/pkg/logging"
	"github.com/sweetpotato0/toolchat/webget"
)

var version = "0.1.0"

func main() {
	var (
		name = flag.String("name", "webget", "Server name reported during initialize")
		addr = flag.String("http", "", "Serve the streamable HTTP transport on this address instead of stdio")
		path = flag.String("path", "/mcp", "HTTP path of the streamable endpoint")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := webget.New().MCPServer(*name, version)
	if *addr == "" {
		if err := server.Run(ctx, &sdkmcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			log.Fatalf("webget stopped: %v", err)
		}
		return
	}

	handler := sdkmcp.NewStreamableHTTPHandler(func(r *http.Request) *sdkmcp.Server {
		if r.URL.Path == *path {
			return server
		}
		return nil
	}, nil)
	mux := http.NewServeMux()
	mux.Handle(*path, handler)

	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.WithComponent("webget").Info("serving MCP streamable endpoint", "addr", *addr, "path", *path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server stopped: %v", err)
	}
}
