package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ortelius/lockscan/config"
	"github.com/ortelius/lockscan/model"
	"github.com/ortelius/lockscan/server"
	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	failOnVuln bool
	serverURL  string
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Scan a directory tree for vulnerable package versions",
	Long: `Discovers every package.json below path (default the current directory), reads the
lockfile that applies to it and reports the packages the rule marks as vulnerable.
Workspace members without their own lockfile inherit the workspace root's.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

// sbomCmd represents the sbom command
var sbomCmd = &cobra.Command{
	Use:   "sbom <file>",
	Short: "Scan a CycloneDX JSON SBOM for vulnerable package versions",
	Args:  cobra.ExactArgs(1),
	RunE:  runSBOM,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(sbomCmd)

	for _, c := range []*cobra.Command{scanCmd, sbomCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "Write the result as JSON")
		c.Flags().BoolVar(&failOnVuln, "fail-on-vuln", false, "Exit with status 2 when vulnerable packages are found")
		c.Flags().StringVar(&serverURL, "server", "", "Run the scan on a lockscan server instead of locally")
	}

	scanCmd.Flags().StringSlice("ignore", nil, "Directory names or glob patterns to skip")
	scanCmd.Flags().Int("max-depth", 0, "Maximum directory depth to descend")
	scanCmd.Flags().Int("workers", 0, "Projects scanned in parallel")

	_ = v.BindPFlag(config.KeyScanIgnore, scanCmd.Flags().Lookup("ignore"))
	_ = v.BindPFlag(config.KeyScanMaxDepth, scanCmd.Flags().Lookup("max-depth"))
	_ = v.BindPFlag(config.KeyScanWorkers, scanCmd.Flags().Lookup("workers"))
}

func runScan(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	return runTarget(cmd, "scan", path)
}

func runSBOM(cmd *cobra.Command, args []string) error {
	return runTarget(cmd, "sbom", args[0])
}

func runTarget(cmd *cobra.Command, endpoint, path string) error {
	var (
		result *model.ScanResult
		err    error
	)

	if serverURL != "" {
		if abs, absErr := filepath.Abs(path); absErr == nil {
			path = abs
		}
		req := server.ScanRequest{Path: path, CVE: cfg.CVE}
		if endpoint == "scan" {
			req.Ignore = cfg.Ignore
		}
		result, err = postScan(serverURL, endpoint, req)
	} else {
		resolver, rErr := newResolver(cmd.Context(), nil)
		if rErr != nil {
			return rErr
		}
		if endpoint == "scan" {
			result, err = resolver.Scan(cmd.Context(), path, nil, "")
		} else {
			result, err = resolver.ScanSBOM(cmd.Context(), path, "")
		}
	}
	if err != nil {
		return err
	}

	if err := writeReport(cmd.OutOrStdout(), result, jsonOutput); err != nil {
		return err
	}
	return scanExit(result, failOnVuln)
}

// scanExit maps a result to the command's error: a scan that produced nothing but errors
// fails, and a vulnerable result fails with errVulnerable when failOnVuln is set.
func scanExit(result *model.ScanResult, failOnVuln bool) error {
	if len(result.Projects) == 0 && len(result.Errors) > 0 {
		return fmt.Errorf("scan failed: %s", strings.Join(result.Errors, "; "))
	}
	if failOnVuln && result.Vulnerable {
		return errVulnerable
	}
	return nil
}

// writeReport renders result as indented JSON or as a table.
func writeReport(w io.Writer, result *model.ScanResult, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	vulnerable := 0
	for _, p := range result.Projects {
		if p.Vulnerable {
			vulnerable++
		}
	}

	status := "NOT AFFECTED"
	if result.Vulnerable {
		status = "VULNERABLE"
	}
	fmt.Fprintf(w, "%s: %s (%d project(s) scanned, %d vulnerable)\n", result.CVE, status, len(result.Projects), vulnerable)

	if vulnerable > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%-30s %-12s %-34s %-12s %-12s %-10s\n", "PROJECT", "FRAMEWORK", "PACKAGE", "CURRENT", "FIXED", "SEVERITY")
		fmt.Fprintln(w, strings.Repeat("─", 115))
		for _, p := range result.Projects {
			for _, f := range p.Findings {
				fmt.Fprintf(w, "%-30s %-12s %-34s %-12s %-12s %-10s\n", p.Name, p.Framework, f.Package, f.CurrentVersion, f.FixedVersion, f.Severity)
			}
		}
	}

	if len(result.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	return nil
}

// postScan asks a lockscan server to run the scan. Paths are resolved on the server's filesystem.
func postScan(serverURL, endpoint string, payload server.ScanRequest) (*model.ScanResult, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if cfg.Verbose {
		fmt.Println("Request payload:")
		var prettyJSON bytes.Buffer
		if err := json.Indent(&prettyJSON, jsonData, "", "  "); err == nil {
			fmt.Println(prettyJSON.String())
		}
	}

	url := strings.TrimSuffix(serverURL, "/") + "/api/v1/" + endpoint
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var failure server.ErrorResponse
		if json.Unmarshal(body, &failure) == nil && failure.Message != "" {
			return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, failure.Message)
		}
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var result model.ScanResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}
