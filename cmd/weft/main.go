package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sandwichfarm/weft/internal/config"
	"github.com/sandwichfarm/weft/internal/feed"
	"github.com/sandwichfarm/weft/internal/hydration"
	"github.com/sandwichfarm/weft/internal/mutes"
	internalnostr "github.com/sandwichfarm/weft/internal/nostr"
	"github.com/sandwichfarm/weft/internal/ops"
	"github.com/sandwichfarm/weft/internal/store"
	"github.com/sandwichfarm/weft/internal/thread"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		handleInit()
		return
	}

	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("weft %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("weft - Nostr feed and thread synchronization engine")
		fmt.Println()
		fmt.Println("No configuration file specified. Use --config <path> to specify config.")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  weft init              Generate example configuration")
		fmt.Println("  weft --version         Show version information")
		fmt.Println("  weft --config <path>   Start with configuration file")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func handleInit() {
	path := "weft.yaml"
	if len(os.Args) > 2 {
		path = os.Args[2]
	}

	if err := config.WriteExample(path); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote example configuration to %s\n", path)
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := ops.NewLogger(&cfg.Logging)
	ops.SetDefault(logger)
	logger.LogStartup(version, commit)

	client := internalnostr.New(ctx, &cfg.Relays)
	defer client.Close()

	st := store.New(nil)

	muteProvider := mutes.StaticProvider{Sets: mutes.NewSets(
		cfg.Mutes.Authors,
		cfg.Mutes.Words,
		cfg.Mutes.Hashtags,
		cfg.Mutes.Threads,
	)}
	visible := mutes.NewFilter(muteProvider, st)

	membership := feed.StaticMembership{
		FollowingSet: cfg.Feeds.Following,
		CirclesSet:   cfg.Feeds.Circles,
	}

	queue := hydration.NewQueue(ctx, client, &cfg.Hydration, cfg.Identity.Pubkey, logger)

	// The thread engine shares the session store, so feed arrivals are
	// already resolvable when a thread view opens.
	threads := thread.NewEngine(thread.ClientProvider{Client: client}, st, logger)

	manager := feed.NewManager(ctx, feed.ClientProvider{Client: client}, st, visible, membership, &cfg.Feeds, logger)
	manager.OnStatus(func(status feed.Status) {
		logger.Info("feed",
			"source", status.Source,
			"state", status.State,
			"attempt", status.Attempt,
			"can_load_more", status.CanLoadMore)
	})

	var threadOnce sync.Once
	manager.OnTimeline(func(source feed.Source, ids []string) {
		logger.Info("timeline", "source", source, "events", len(ids))
		queue.Enqueue(ids, false)

		// Smoke-build one thread off the first populated timeline.
		if len(ids) == 0 {
			return
		}
		threadOnce.Do(func() {
			target := st.Get(ids[0])
			go func() {
				tc, err := threads.BuildThread(ctx, target)
				if err != nil {
					return
				}
				stats := tc.Stats()
				logger.Info("thread",
					"target", tc.TargetID,
					"root", tc.RootID,
					"events", stats.TotalEvents,
					"branches", stats.Branches)
			}()
		})
	})

	source, err := feed.ParseSource(cfg.Feeds.DefaultSource)
	if err != nil {
		return err
	}
	manager.Activate(source)
	defer manager.Deactivate()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.LogShutdown(sig.String())
	return nil
}
