// cmd/forensiq/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/forensiq/forensiq/internal/ai"
	"github.com/forensiq/forensiq/internal/analysis"
	"github.com/forensiq/forensiq/internal/config"
	"github.com/forensiq/forensiq/internal/mitre"
	"github.com/forensiq/forensiq/internal/monitor"
	"github.com/forensiq/forensiq/internal/pattern"
	"github.com/forensiq/forensiq/internal/schedule"
	"github.com/forensiq/forensiq/internal/search"
	"github.com/forensiq/forensiq/internal/server"
	"github.com/forensiq/forensiq/internal/store"
)

var (
	cfgPath      string
	analyzeFile  string
	enhanced     bool
	maxResults   int
	dataLimit    int
	baseInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "forensiq",
	Short:         "AI-assisted log threat analysis against MITRE ATT&CK",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a log file once and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		raw, err := os.ReadFile(analyzeFile)
		if err != nil {
			return fmt.Errorf("read log file: %w", err)
		}

		orch, index := buildPipeline(cfg)
		learner := pattern.NewLearner(0)

		db, err := store.NewDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		ctx, cancel := signalContext()
		defer cancel()

		index.EmbedCorpus(ctx)

		if maxResults == 0 {
			maxResults = cfg.MaxResults
		}
		report, err := orch.Analyze(ctx, string(raw), analysis.Options{
			MaxResults: maxResults,
			Enhance:    enhanced || cfg.AutoEnhance,
		})
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}

		tc := learner.Analyze(string(raw))
		if err := db.InsertReport(report, "", tc.SeverityLevel); err != nil {
			return fmt.Errorf("store report: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*analysis.Report
			SeverityLevel string  `json:"severity_level"`
			SeverityScore float64 `json:"severity_score"`
		}{report, tc.SeverityLevel, tc.SeverityScore})
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run continuous monitoring over the configured log sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if len(cfg.Monitoring.Sources) == 0 {
			return fmt.Errorf("no log sources configured")
		}
		if baseInterval > 0 {
			cfg.Monitoring.BaseInterval = baseInterval
		}

		orch, index := buildPipeline(cfg)
		learner := pattern.NewLearner(0)

		db, err := store.NewDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		ctx, cancel := signalContext()
		defer cancel()

		// One up-front pass so retrieval uses real embeddings when the
		// backend is reachable
		index.EmbedCorpus(ctx)

		loop := monitor.NewLoop(monitor.Config{
			Sources:   cfg.Monitoring.Sources,
			StateFile: cfg.Monitoring.StateFile,
			Bounds: schedule.Bounds{
				Base: cfg.Monitoring.BaseInterval,
				Min:  cfg.Monitoring.MinInterval,
				Max:  cfg.Monitoring.MaxInterval,
			},
			MaxBackoff:           cfg.Monitoring.MaxBackoff,
			MaxConsecutiveErrors: cfg.Monitoring.MaxConsecutiveErrors,
			MaxResults:           cfg.MaxResults,
			Enhance:              cfg.AutoEnhance,
		}, orch, learner, db)

		return loop.Run(ctx)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP analysis server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Server.APIKey == "" {
			return fmt.Errorf("FORENSIQ_API_KEY not set")
		}

		orch, index := buildPipeline(cfg)
		learner := pattern.NewLearner(0)

		db, err := store.NewDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		ctx, cancel := signalContext()
		defer cancel()

		index.EmbedCorpus(ctx)

		return server.New(cfg.Server, orch, learner, db).Run(ctx)
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the configured log sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		for _, s := range cfg.Monitoring.Sources {
			fmt.Printf("%-20s %-40s %s\n", s.ID, s.Path, s.Description)
		}
		return nil
	},
}

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Query stored analysis data",
}

var dataListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent analysis reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		reports, err := db.RecentReports(dataLimit)
		if err != nil {
			return err
		}
		for _, r := range reports {
			fmt.Printf("%s  %-8s  %2d techniques  %2d IOCs  conf=%.2f  %s\n",
				r.ReportID, r.SeverityLevel, len(r.MatchedTechniques),
				len(r.ExtractedIOCs), r.ConfidenceScore, humanize.Time(r.Timestamp))
		}
		return nil
	},
}

var dataSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List monitoring sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sessions, err := db.Sessions(dataLimit)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			fmt.Printf("%s  %-7s  %3d analyses  every %ds  started %s\n",
				s.SessionID, s.Status, s.TotalAnalyses, s.IntervalSeconds,
				humanize.Time(s.StartedAt))
		}
		return nil
	},
}

var dataStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show report counts by severity",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		counts, err := db.SeverityCounts()
		if err != nil {
			return err
		}
		for _, level := range []string{pattern.SeverityCritical, pattern.SeverityHigh,
			pattern.SeverityMedium, pattern.SeverityLow, "unscored"} {
			if n, ok := counts[level]; ok {
				fmt.Printf("%-10s %s\n", level, humanize.Comma(int64(n)))
			}
		}
		return nil
	},
}

// buildPipeline assembles the analysis pipeline from config
func buildPipeline(cfg *config.Config) (*analysis.Orchestrator, *mitre.Index) {
	var endpoints []ai.Endpoint
	for _, ep := range cfg.AIEndpoints {
		endpoints = append(endpoints, ai.Endpoint{
			URL:            ep.URL,
			Model:          ep.Model,
			EmbeddingModel: ep.EmbeddingModel,
			APIKey:         ep.APIKey,
		})
	}
	client := ai.NewClient(endpoints)

	techniques := mitre.LoadCorpus(cfg.CorpusPath)
	var embedder mitre.Embedder
	if len(endpoints) > 0 {
		embedder = client
	}
	index := mitre.NewIndex(techniques, embedder)
	engine := search.NewEngine(index, cfg.MinRelevance)

	return analysis.NewOrchestrator(client, engine, client, cfg.MaxLogLength), index
}

func openDB() (*store.DB, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return store.NewDB(cfg.DBPath)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "forensiq.yaml", "path to config file")

	analyzeCmd.Flags().StringVarP(&analyzeFile, "file", "f", "", "log file to analyze")
	analyzeCmd.MarkFlagRequired("file")
	analyzeCmd.Flags().BoolVar(&enhanced, "enhanced", false, "run the AI enhancement step")
	analyzeCmd.Flags().IntVar(&maxResults, "max-results", 0, "max technique matches (1-20)")

	monitorCmd.Flags().DurationVar(&baseInterval, "interval", 0, "override the base polling interval")

	dataCmd.PersistentFlags().IntVar(&dataLimit, "limit", 20, "max rows to show")
	dataCmd.AddCommand(dataListCmd)
	dataCmd.AddCommand(dataSessionsCmd)
	dataCmd.AddCommand(dataStatsCmd)

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(dataCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
