// moodtrace is the command line client. It records and reads mood entries
// through the mutation coordinator, against either a remote moodtraced
// instance or an in-process simulated backend.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/moodtrace/moodtrace/internal/client"
	"github.com/moodtrace/moodtrace/internal/config"
	"github.com/moodtrace/moodtrace/internal/moodtrace"
)

const usage = `usage: moodtrace [-config path] <command> [args]

commands:
  log <category> <level> [note]   record a mood entry
  list                            list all entries
  today                           list today's entries
  stats                           aggregate statistics
  get <id>                        show one entry
  update <id> <level> [note]      change an entry
  delete <id>                     remove an entry
  sync                            refetch the authoritative list
  watch                           stream realtime events (remote mode only)
  categories                      list valid categories
`

func main() {
	configPath := flag.String("config", strings.TrimSpace(os.Getenv("MOODTRACE_CONFIG")), "path to YAML config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load configuration: %v", err)
	}

	logger := zap.NewNop()
	if strings.TrimSpace(os.Getenv("MOODTRACE_DEBUG")) != "" {
		logger, err = zap.NewDevelopment()
		if err != nil {
			fatalf("init logger: %v", err)
		}
	}

	app, err := newApp(cfg, logger)
	if err != nil {
		fatalf("%v", err)
	}
	defer app.close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.run(ctx, args[0], args[1:]); err != nil {
		fatalf("%v", err)
	}
}

type app struct {
	cfg         config.Config
	coordinator *client.Coordinator
	remoteMode  bool
	logger      *zap.Logger
}

func newApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	dataDir := strings.TrimSpace(cfg.DataDir)
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve data directory: %w", err)
		}
		dataDir = filepath.Join(home, ".moodtrace")
	}

	ledger := client.NewLedger(client.LedgerOptions{
		DocumentPath: filepath.Join(dataDir, "entries.json"),
		Logger:       logger,
	})

	var remote client.Remote
	remoteMode := strings.TrimSpace(cfg.APIBaseURL) != ""
	if remoteMode {
		remote = client.NewHTTPRemote(cfg.APIBaseURL, cfg.AuthToken, nil)
	} else {
		// Local mode simulates the backend against a file-backed store
		// with injected latency.
		store := moodtrace.NewRecordStoreWithOptions(moodtrace.StoreOptions{
			StateFile: filepath.Join(dataDir, "store.json"),
			Logger:    logger,
		})
		remote = moodtrace.NewSimulator(store, nil, moodtrace.SimulatorOptions{
			Delay: moodtrace.NewUniformDelay(cfg.LatencyMin.Std(), cfg.LatencyMax.Std()),
		})
	}

	coordinator, err := client.NewCoordinator(remote, client.CoordinatorOptions{
		Ledger: ledger,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, coordinator: coordinator, remoteMode: remoteMode, logger: logger}, nil
}

func (a *app) close() {
	a.coordinator.Close()
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "log":
		return a.cmdLog(ctx, args)
	case "list":
		return a.printEntries(a.coordinator.List(ctx, moodtrace.Filter{}))
	case "today":
		return a.printEntries(a.coordinator.Today(ctx))
	case "stats":
		return a.cmdStats(ctx)
	case "get":
		return a.cmdGet(ctx, args)
	case "update":
		return a.cmdUpdate(ctx, args)
	case "delete":
		return a.cmdDelete(ctx, args)
	case "sync":
		return a.coordinator.Sync(ctx)
	case "watch":
		return a.cmdWatch(ctx)
	case "categories":
		for _, c := range moodtrace.Categories() {
			fmt.Println(c)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) cmdLog(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: moodtrace log <category> <level> [note]")
	}
	level, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("level must be a number between %d and %d", moodtrace.MinLevel, moodtrace.MaxLevel)
	}
	note := strings.Join(args[2:], " ")
	entry, err := a.coordinator.Create(ctx, moodtrace.Category(args[0]), level, note)
	if err != nil {
		return err
	}
	fmt.Printf("recorded %s\n", entry.ID)
	return nil
}

func (a *app) cmdStats(ctx context.Context) error {
	stats, err := a.coordinator.Stats(ctx, 0, 0)
	if err != nil {
		return err
	}
	fmt.Printf("entries: %d\naverage level: %.2f\n", stats.Count, stats.AverageLevel)
	for _, category := range moodtrace.Categories() {
		if count := stats.ByCategory[category]; count > 0 {
			fmt.Printf("  %s: %d\n", category, count)
		}
	}
	return nil
}

func (a *app) cmdGet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: moodtrace get <id>")
	}
	entry, err := a.coordinator.Get(ctx, args[0])
	if err != nil {
		return err
	}
	printEntry(entry)
	return nil
}

func (a *app) cmdUpdate(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: moodtrace update <id> <level> [note]")
	}
	level, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("level must be a number between %d and %d", moodtrace.MinLevel, moodtrace.MaxLevel)
	}
	fields := moodtrace.EntryFields{Level: &level}
	if len(args) > 2 {
		note := strings.Join(args[2:], " ")
		fields.Note = &note
	}
	entry, err := a.coordinator.Update(ctx, args[0], fields)
	if err != nil {
		return err
	}
	printEntry(entry)
	return nil
}

func (a *app) cmdDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: moodtrace delete <id>")
	}
	return a.coordinator.Delete(ctx, args[0])
}

func (a *app) cmdWatch(ctx context.Context) error {
	wsURL := strings.TrimSpace(a.cfg.WebSocketURL)
	if wsURL == "" {
		if !a.remoteMode {
			return fmt.Errorf("watch requires a remote backend (set api_base_url and websocket_url)")
		}
		wsURL = "ws" + strings.TrimPrefix(a.cfg.APIBaseURL, "http") + "/v1/realtime"
	}
	subscriber, err := client.NewRealtimeSubscriber(client.RealtimeOptions{
		URL:    wsURL,
		Token:  a.cfg.AuthToken,
		Logger: a.logger,
	}, func(event moodtrace.Event) {
		a.coordinator.HandleEvent(event)
		payload, _ := json.Marshal(event)
		fmt.Println(string(payload))
	})
	if err != nil {
		return err
	}
	// Watch runs until interrupted, not until the command timeout.
	subscriber.Run(context.WithoutCancel(ctx))
	return nil
}

func (a *app) printEntries(entries []moodtrace.Entry, err error) error {
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no entries")
		return nil
	}
	for _, entry := range entries {
		printEntry(entry)
	}
	return nil
}

func printEntry(entry moodtrace.Entry) {
	when := time.UnixMilli(entry.Timestamp).Local().Format("2006-01-02 15:04")
	line := fmt.Sprintf("%s  %s  %-9s %d", entry.ID, when, entry.Category, entry.Level)
	if entry.Note != "" {
		line += "  " + entry.Note
	}
	fmt.Println(line)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "moodtrace: "+format+"\n", args...)
	os.Exit(1)
}
