package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ortelius/lockscan/config"
	"github.com/ortelius/lockscan/database"
	"github.com/ortelius/lockscan/metrics"
	"github.com/ortelius/lockscan/model"
	"github.com/ortelius/lockscan/rules"
	"github.com/ortelius/lockscan/server"
	"github.com/ortelius/lockscan/walker"
	"github.com/ortelius/lockscan/watch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the scan API",
	Long: `Starts the HTTP API: POST /api/v1/scan, POST /api/v1/sbom, GET /api/v1/rules,
the GraphQL endpoint at /api/v1/graphql and Prometheus metrics at /metrics.
Scan history is stored in ArangoDB when arango.enabled is set.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// rulesCmd represents the rules command
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the loaded CVE rules",
	Args:  cobra.NoArgs,
	RunE:  runRules,
}

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Re-scan whenever a manifest or lockfile changes",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored scans, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var (
	historyPackage string
	historyLimit   int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)

	serveCmd.Flags().String("port", "", "Listen port (default $MS_PORT or 3000)")
	_ = v.BindPFlag(config.KeyServerPort, serveCmd.Flags().Lookup("port"))

	watchCmd.Flags().BoolVar(&jsonOutput, "json", false, "Write each result as JSON")

	historyCmd.Flags().StringVar(&historyPackage, "package", "", "Only scans that found this npm package vulnerable")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of scans")
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	recorder := metrics.NewRecorder()
	resolver, err := newResolver(ctx, recorder)
	if err != nil {
		return err
	}

	// Fail at startup rather than on the first request
	if _, err := resolver.Scanner.Rules().Primary(); err != nil {
		return err
	}

	app, err := server.New(resolver, recorder, logger)
	if err != nil {
		return fmt.Errorf("failed to create GraphQL schema: %w", err)
	}
	return server.Listen(ctx, app, cfg.Port, logger)
}

func runRules(cmd *cobra.Command, args []string) error {
	store := rules.NewStore(rules.WithDir(cfg.RulesDir), rules.WithLogger(logger))
	all, err := store.All()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-20s %-10s %-6s %s\n", "ID", "SEVERITY", "CVSS", "TITLE")
	for _, rule := range all {
		cvss := "-"
		if rule.CVSS != nil {
			cvss = fmt.Sprintf("%.1f", *rule.CVSS)
		}
		fmt.Fprintf(w, "%-20s %-10s %-6s %s\n", rule.ID, rule.Severity, cvss, rule.Title)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	resolver, err := newResolver(ctx, nil)
	if err != nil {
		return err
	}

	scan := func(ctx context.Context) {
		result, err := resolver.Scan(ctx, root, nil, "")
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error("Scan failed", zap.Error(err))
			}
			return
		}
		if err := writeReport(cmd.OutOrStdout(), result, jsonOutput); err != nil {
			logger.Error("Failed to write report", zap.Error(err))
		}
	}

	w, err := watch.New(root, watch.Options{
		Walk: walker.Options{MaxDepth: cfg.MaxDepth, Ignore: cfg.Ignore},
	}, logger)
	if err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}

	scan(ctx)
	logger.Info("Watching for lockfile changes", zap.String("root", root))
	return w.Run(ctx, scan)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if !cfg.Arango.Enabled {
		return errors.New("scan history requires arango.enabled (CVESCAN_ARANGO_ENABLED=true)")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	resolver, err := newResolver(ctx, nil)
	if err != nil {
		return err
	}

	cve := ""
	if cmd.Flags().Changed("cve") {
		cve = cfg.CVE
	}
	records, err := resolver.FindScans(ctx, database.HistoryQuery{CVE: cve, Package: historyPackage, Limit: historyLimit})
	if err != nil {
		return err
	}
	writeHistory(cmd, records)
	return nil
}

func writeHistory(cmd *cobra.Command, records []model.ScanRecord) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Found %d scan(s):\n\n", len(records))
	fmt.Fprintf(w, "%-25s %-16s %-10s %-9s %s\n", "SCAN TIME", "CVE", "KIND", "FINDINGS", "TARGET")
	for _, rec := range records {
		fmt.Fprintf(w, "%-25s %-16s %-10s %-9d %s\n", rec.ScanTime.Format(time.RFC3339), rec.CVE, rec.Kind, rec.FindingCount, rec.Target)
	}
}
