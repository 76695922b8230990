// deepresearch is the research orchestrator CLI: serve runs the HTTP
// surface, research runs one query end to end from the terminal, health
// prints the dependency report.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"deepresearch/internal/config"
	"deepresearch/internal/domain"
	"deepresearch/internal/export"
	"deepresearch/internal/fetcher"
	"deepresearch/internal/health"
	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
	"deepresearch/internal/memory"
	"deepresearch/internal/provider"
	"deepresearch/internal/resilience"
	"deepresearch/internal/server"
	"deepresearch/internal/session"
	"deepresearch/internal/types"
)

var (
	// Global flags
	debug   bool
	dataDir string

	// research flags
	privacyMode  string
	outputFormat string
)

// errStartup marks configuration/validation failures (exit code 1);
// anything else that escapes is a runtime failure (exit code 2).
var errStartup = errors.New("startup failed")

var rootCmd = &cobra.Command{
	Use:   "deepresearch",
	Short: "Iterative deep-research orchestrator",
	Long: `deepresearch runs multi-cycle research sessions: it fans out to search
providers, extracts and cross-checks facts, loops until saturation and
synthesizes a sourced report. Local-only privacy mode never sends a byte
to a remote model.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := buildStack(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", errStartup, err)
		}
		defer st.close()

		srv := server.New(st.cfg, st.orch, st.checker, st.fetcher)
		if err := srv.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		st.orch.Wait()
		return nil
	},
}

var researchCmd = &cobra.Command{
	Use:   "research <query>",
	Short: "Run one research session and print the report",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := buildStack(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", errStartup, err)
		}
		defer st.close()

		format, err := export.ParseFormat(outputFormat)
		if err != nil {
			return fmt.Errorf("%w: %v", errStartup, err)
		}
		privacy := types.PrivacyMode(privacyMode)
		if privacy != types.PrivacyLocalOnly && privacy != types.PrivacyCloudAllowed {
			return fmt.Errorf("%w: unknown privacy mode %q", errStartup, privacyMode)
		}

		query := strings.Join(args, " ")
		id, err := st.orch.Start(query, privacy)
		if err != nil {
			return fmt.Errorf("%w: %v", errStartup, err)
		}

		if err := followSession(ctx, st.orch, id); err != nil {
			return err
		}

		report, err := st.orch.ReportFor(id)
		if err != nil {
			return fmt.Errorf("session produced no report: %w", err)
		}
		data, _, err := export.Render(format, report)
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe dependencies and print the feature matrix",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("%w: %v", errStartup, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		report := health.NewChecker(cfg).Snapshot(ctx)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if report.Status == health.StatusFailed {
			return fmt.Errorf("%w: health status %s", errStartup, report.Status)
		}
		return nil
	},
}

// followSession streams progress to stderr until the session settles. An
// interrupt turns into a cooperative stop; a clarification request ends
// the one-shot run since nobody is there to approve it.
func followSession(ctx context.Context, orch *session.Orchestrator, id string) error {
	events, cancel, err := orch.Subscribe(id)
	if err != nil {
		return err
	}
	defer cancel()

	// Poll as a fallback for transitions that happened before the
	// subscription was in place.
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snap, serr := orch.Status(id)
			if serr != nil {
				continue
			}
			switch {
			case snap.Phase == types.PhaseAwaitingApproval:
				orch.Stop(id)
				if snap.Clarification != "" {
					return fmt.Errorf("%w: %s", errStartup, snap.Clarification)
				}
				return fmt.Errorf("%w: the query needs clarification", errStartup)
			case snap.Phase == types.PhaseFailed:
				return fmt.Errorf("session failed: %s", snap.Error)
			case snap.Phase == types.PhaseComplete:
				fmt.Fprintf(os.Stderr, "finished: %s\n", snap.StopReason)
				return nil
			}
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "interrupt: stopping session")
			orch.Stop(id)
			// Keep draining; the done event follows cancellation.
			ctx = context.Background()
		case ev := <-events:
			switch ev.Kind {
			case session.EventPhase:
				fmt.Fprintf(os.Stderr, "[cycle %d] %s\n", ev.Cycle, ev.Phase)
				if ev.Phase == types.PhaseAwaitingApproval {
					orch.Stop(id)
					snap, serr := orch.Status(id)
					if serr == nil && snap.Clarification != "" {
						return fmt.Errorf("%w: %s", errStartup, snap.Clarification)
					}
					return fmt.Errorf("%w: the query needs clarification", errStartup)
				}
			case session.EventStats:
				fmt.Fprintf(os.Stderr, "  entities=%d facts=%d\n", ev.EntitiesFound, ev.FactsExtracted)
			case session.EventDone:
				fmt.Fprintf(os.Stderr, "finished: %s\n", ev.StopReason)
				return nil
			case session.EventError:
				return fmt.Errorf("session failed: %s", ev.Error)
			}
		}
	}
}

// stack is the wired application.
type stack struct {
	cfg     *config.Config
	orch    *session.Orchestrator
	checker *health.Checker
	fetcher *fetcher.Fetcher
	store   *memory.Store
}

func (s *stack) close() {
	s.fetcher.Close()
	if err := s.store.Close(); err != nil {
		logging.Boot("store close: %v", err)
	}
	logging.Shutdown()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if debug {
		cfg.Server.Debug = true
	}
	return cfg, nil
}

// buildStack loads config, runs the startup gate and wires every
// collaborator.
func buildStack(ctx context.Context) (*stack, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.DataDir, cfg.Server.Debug); err != nil {
		return nil, err
	}

	checker := health.NewChecker(cfg)
	if _, err := checker.Startup(ctx); err != nil {
		return nil, err
	}
	if err := domain.WritePlaybooks(cfg.DomainConfigDir()); err != nil {
		return nil, err
	}

	router := llm.NewRouter(cfg.LLM)

	var embedder memory.Embedder
	if router.LocalAvailable(ctx) {
		embedder = memory.NewOllamaEmbedder(cfg.LLM.OllamaBaseURL, cfg.LLM.EmbeddingModel)
	} else {
		logging.Boot("embedding backend unreachable, using hash embeddings")
		embedder = memory.NewHashEmbedder()
	}
	store, err := memory.Open(cfg.DatabasePath(), embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}

	fetch := fetcher.New(cfg.Fetcher)
	breakers := resilience.NewBreakerSet(0, 0)
	limiter := resilience.NewLimiter()
	registry := provider.BuildRegistry(cfg.Providers, fetch, breakers, limiter, store)

	orch := session.New(cfg, router, session.NewRegistrySource(registry), fetch, store)
	return &stack{cfg: cfg, orch: orch, checker: checker, fetcher: fetch, store: store}, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the persistence directory")

	researchCmd.Flags().StringVar(&privacyMode, "privacy", string(types.PrivacyLocalOnly),
		"privacy mode: local-only or cloud-allowed")
	researchCmd.Flags().StringVar(&outputFormat, "format", string(export.FormatMarkdown),
		"report format: markdown or json")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(researchCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errStartup) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}
