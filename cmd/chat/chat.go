// Command chat is a terminal front end for the conversation engine. It wires
// the engine to either the websocket relay or the in-process provider
// pipeline, per TRANSPORT_MODE.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sidechat/internal/config"
	"sidechat/internal/domain/session"
	"sidechat/internal/engine"
	"sidechat/internal/infrastructure/logger"
	"sidechat/internal/infrastructure/store"
	"sidechat/internal/provider"
	"sidechat/internal/transport"
	"sidechat/internal/utils/idgen"
)

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(fmt.Sprintf("failed to configure logger: %v", err))
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	sessions := store.NewMemoryStore(log)

	sess := &session.Session{
		SessionID: idgen.MustGenerateSecureID("sess", 16),
		ModelName: cfg.DefaultModel,
		APIMode:   cfg.DefaultAPIMode,
	}

	eng := engine.New(sess, sessions, cfg.RetryCooldown, log)

	var tr transport.Transport
	switch cfg.TransportMode {
	case "websocket":
		tr, err = transport.DialWebSocket(ctx, cfg.RelayURL, eng.HandleMessage, cfg.KeepAliveInterval, log)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.RelayURL).Msg("failed to dial relay")
		}
	default:
		catalog, err := cfg.LoadCatalog()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load model catalog")
		}
		tr = transport.NewInProcess(provider.NewRunner(cfg, catalog, log), eng.HandleMessage, log)
	}
	defer tr.Close()
	eng.AttachTransport(tr)

	fmt.Printf("session %s, model %s (%s transport)\n", sess.SessionID, sess.ModelName, cfg.TransportMode)
	fmt.Println("type a question; /retry, /stop, /quit")

	repl(ctx, eng)
}

func repl(ctx context.Context, eng *engine.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/stop":
			if err := eng.Stop(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "stop failed: %v\n", err)
			}
			continue
		case line == "/retry":
			if err := eng.Retry(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "retry failed: %v\n", err)
				continue
			}
		default:
			if err := eng.Ask(ctx, line); err != nil {
				fmt.Fprintf(os.Stderr, "ask failed: %v\n", err)
				continue
			}
		}

		waitForAnswer(ctx, eng)
	}
}

// waitForAnswer blocks until the turn reaches a terminal state, then prints
// the trailing item.
func waitForAnswer(ctx context.Context, eng *engine.Engine) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !eng.Ready() {
				continue
			}
			items := eng.Items()
			if len(items) == 0 {
				return
			}
			last := items[len(items)-1]
			fmt.Println(last.Content)
			return
		}
	}
}

func loadEnvFiles() {
	paths := []string{".env", "../.env", "../../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
