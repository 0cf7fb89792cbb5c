// Package config loads lockscan settings from defaults, an optional YAML config file, a .env
// file and CVESCAN_* environment variables, in increasing order of precedence. Command-line
// flags bound to the returned viper instance override all of them.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/ortelius/lockscan/rules"
	"github.com/ortelius/lockscan/util"
	"github.com/ortelius/lockscan/walker"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. CVESCAN_SCAN_WORKERS.
const EnvPrefix = "CVESCAN"

// Keys understood by Load.
const (
	KeyRulesDir      = "rules.dir"
	KeyRulesCVE      = "rules.cve"
	KeyScanIgnore    = "scan.ignore"
	KeyScanMaxDepth  = "scan.max_depth"
	KeyScanWorkers   = "scan.workers"
	KeyServerPort    = "server.port"
	KeyArangoURL     = "arango.url"
	KeyArangoUser    = "arango.user"
	KeyArangoPass    = "arango.pass"
	KeyArangoEnabled = "arango.enabled"
	KeyLogVerbose    = "log.verbose"
)

// Config is the resolved configuration.
type Config struct {
	RulesDir string
	CVE      string
	Ignore   []string
	MaxDepth int
	Workers  int
	Port     string
	Arango   ArangoConfig
	Verbose  bool
}

// ArangoConfig holds the scan history database settings.
type ArangoConfig struct {
	Enabled bool
	URL     string
	User    string
	Pass    string
}

// New returns a viper instance with defaults and environment binding in place.
// The ARANGO_* and MS_PORT variables used by the other ortelius services seed the defaults.
func New() *viper.Viper {
	v := viper.New()

	dbhost := util.GetEnvDefault("ARANGO_HOST", "localhost")
	dbport := util.GetEnvDefault("ARANGO_PORT", "8529")

	v.SetDefault(KeyRulesDir, "")
	v.SetDefault(KeyRulesCVE, rules.PrimaryRuleID)
	v.SetDefault(KeyScanIgnore, []string{})
	v.SetDefault(KeyScanMaxDepth, walker.DefaultMaxDepth)
	v.SetDefault(KeyScanWorkers, runtime.NumCPU())
	v.SetDefault(KeyServerPort, util.GetEnvDefault("MS_PORT", "3000"))
	v.SetDefault(KeyArangoURL, util.GetEnvDefault("ARANGO_URL", "http://"+dbhost+":"+dbport))
	v.SetDefault(KeyArangoUser, util.GetEnvDefault("ARANGO_USER", "root"))
	v.SetDefault(KeyArangoPass, util.GetEnvDefault("ARANGO_PASS", ""))
	v.SetDefault(KeyArangoEnabled, false)
	v.SetDefault(KeyLogVerbose, false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads envFile (".env" when empty; a missing default file is ignored) and cfgFile into v.
// Without cfgFile, lockscan.yaml is looked up in the working directory and is optional.
func Load(v *viper.Viper, cfgFile, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
		return nil
	}

	v.AddConfigPath(".")
	v.SetConfigType("yaml")
	v.SetConfigName("lockscan")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// FromViper extracts a Config from v.
func FromViper(v *viper.Viper) Config {
	return Config{
		RulesDir: v.GetString(KeyRulesDir),
		CVE:      v.GetString(KeyRulesCVE),
		Ignore:   stringList(v.GetStringSlice(KeyScanIgnore)),
		MaxDepth: v.GetInt(KeyScanMaxDepth),
		Workers:  v.GetInt(KeyScanWorkers),
		Port:     v.GetString(KeyServerPort),
		Arango: ArangoConfig{
			Enabled: v.GetBool(KeyArangoEnabled),
			URL:     v.GetString(KeyArangoURL),
			User:    v.GetString(KeyArangoUser),
			Pass:    v.GetString(KeyArangoPass),
		},
		Verbose: v.GetBool(KeyLogVerbose),
	}
}

// stringList accepts both YAML lists and comma-separated environment values.
func stringList(values []string) []string {
	out := []string{}
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}
