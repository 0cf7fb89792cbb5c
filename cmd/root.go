// Package cmd implements the lockscan command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ortelius/lockscan/config"
	"github.com/ortelius/lockscan/database"
	gqlschema "github.com/ortelius/lockscan/graphql"
	"github.com/ortelius/lockscan/metrics"
	"github.com/ortelius/lockscan/rules"
	"github.com/ortelius/lockscan/scanner"
	"github.com/ortelius/lockscan/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Exit statuses
const (
	exitError      = 1
	exitVulnerable = 2
)

// errVulnerable is returned when --fail-on-vuln is set and the scan found something.
var errVulnerable = errors.New("vulnerable packages found")

var (
	v       = config.New()
	cfg     config.Config
	logger  = zap.NewNop()
	cfgFile string
	envFile string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "lockscan",
	Short: "Scan JavaScript lockfiles and SBOMs for vulnerable package versions",
	Long: `lockscan resolves the exact package versions recorded in npm, pnpm and yarn
lockfiles (or a CycloneDX SBOM) and reports every package a CVE rule marks as
vulnerable, together with the nearest fixed version.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(v, cfgFile, envFile); err != nil {
			return err
		}
		cfg = config.FromViper(v)
		logger = util.InitLogger(cfg.Verbose)
		return nil
	},
}

func init() {
	// Persistent flags available to all commands
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default ./lockscan.yaml)")
	flags.StringVar(&envFile, "env-file", "", "Environment file (default ./.env)")
	flags.String("rules-dir", "", "Directory of additional rule documents (JSON or OSV)")
	flags.String("cve", rules.PrimaryRuleID, "Rule to evaluate")
	flags.BoolP("verbose", "v", false, "Enable verbose output")

	_ = v.BindPFlag(config.KeyRulesDir, flags.Lookup("rules-dir"))
	_ = v.BindPFlag(config.KeyRulesCVE, flags.Lookup("cve"))
	_ = v.BindPFlag(config.KeyLogVerbose, flags.Lookup("verbose"))
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errVulnerable) {
			os.Exit(exitVulnerable)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitError)
	}
}

// scanOptions returns the configured defaults for a scan.
func scanOptions() scanner.Options {
	return scanner.Options{
		CVE:      cfg.CVE,
		Ignore:   cfg.Ignore,
		MaxDepth: cfg.MaxDepth,
		Workers:  cfg.Workers,
	}
}

// newResolver builds the scanner from the loaded configuration and, when enabled, connects the
// scan history database. recorder may be nil.
func newResolver(ctx context.Context, recorder *metrics.Recorder) (*gqlschema.Resolver, error) {
	store := rules.NewStore(rules.WithDir(cfg.RulesDir), rules.WithLogger(logger))

	resolver := &gqlschema.Resolver{
		Scanner:  scanner.New(store, logger, recorder),
		Defaults: scanOptions(),
		Logger:   logger,
	}

	if cfg.Arango.Enabled {
		db, err := database.Connect(ctx, cfg.Arango, database.DefaultConnectOptions(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to scan history database: %w", err)
		}
		resolver.History = db
	}
	return resolver, nil
}
