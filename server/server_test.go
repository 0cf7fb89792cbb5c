package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gqlschema "github.com/ortelius/lockscan/graphql"
	"github.com/ortelius/lockscan/metrics"
	"github.com/ortelius/lockscan/model"
	"github.com/ortelius/lockscan/rules"
	"github.com/ortelius/lockscan/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestApp(t *testing.T) (*http.Response, func(method, path, body string) *http.Response) {
	t.Helper()
	recorder := metrics.NewRecorder()
	resolver := &gqlschema.Resolver{
		Scanner: scanner.New(rules.NewStore(), zaptest.NewLogger(t), recorder),
		Logger:  zaptest.NewLogger(t),
	}
	app, err := New(resolver, recorder, zaptest.NewLogger(t))
	require.NoError(t, err)

	call := func(method, path, body string) *http.Response {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, path, reader)
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}
	return call(http.MethodGet, "/", ""), call
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func projectDir(t *testing.T, next string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "package.json"), []byte(`{"name": "shop"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "package-lock.json"),
		[]byte(`{"lockfileVersion": 3, "packages": {"": {"name": "shop"}, "node_modules/next": {"version": "`+next+`"}}}`), 0o644))
	return root
}

func TestHealth(t *testing.T) {
	health, _ := newTestApp(t)
	assert.Equal(t, http.StatusOK, health.StatusCode)

	var body map[string]string
	decode(t, health, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestPostScan(t *testing.T) {
	_, call := newTestApp(t)

	body, err := json.Marshal(ScanRequest{Path: projectDir(t, "15.2.1")})
	require.NoError(t, err)
	resp := call(http.MethodPost, "/api/v1/scan", string(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result model.ScanResult
	decode(t, resp, &result)
	assert.True(t, result.Vulnerable)
	require.Len(t, result.Projects, 1)
	require.Len(t, result.Projects[0].Findings, 1)
	assert.Equal(t, "15.2.6", result.Projects[0].Findings[0].FixedVersion)
}

func TestPostScanMissingPath(t *testing.T) {
	_, call := newTestApp(t)

	resp := call(http.MethodPost, "/api/v1/scan", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body ErrorResponse
	decode(t, resp, &body)
	assert.False(t, body.Success)
	assert.Contains(t, body.Message, "path")
}

func TestPostScanUnknownRule(t *testing.T) {
	_, call := newTestApp(t)

	resp := call(http.MethodPost, "/api/v1/scan", `{"path": "/", "cve": "CVE-0000-0000"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostScanNonexistentPath(t *testing.T) {
	_, call := newTestApp(t)

	missing := filepath.Join(t.TempDir(), "missing")
	resp := call(http.MethodPost, "/api/v1/scan", `{"path": "`+missing+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result model.ScanResult
	decode(t, resp, &result)
	assert.False(t, result.Vulnerable)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "path does not exist")
}

func TestPostSBOM(t *testing.T) {
	_, call := newTestApp(t)

	path := filepath.Join(t.TempDir(), "bom.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"bomFormat": "CycloneDX",
		"specVersion": "1.5",
		"metadata": {"component": {"name": "storefront"}},
		"components": [{"type": "library", "name": "react-server-dom-webpack", "version": "19.0.0"}]
	}`), 0o644))

	resp := call(http.MethodPost, "/api/v1/sbom", `{"path": "`+path+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result model.ScanResult
	decode(t, resp, &result)
	assert.True(t, result.Vulnerable)
	require.Len(t, result.Projects, 1)
	assert.Equal(t, "storefront", result.Projects[0].Name)
}

func TestGetRules(t *testing.T) {
	_, call := newTestApp(t)

	resp := call(http.MethodGet, "/api/v1/rules", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all []model.CVERule
	decode(t, resp, &all)
	require.NotEmpty(t, all)
	assert.Equal(t, rules.PrimaryRuleID, all[0].ID)

	resp = call(http.MethodGet, "/api/v1/rules/"+rules.PrimaryRuleID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rule model.CVERule
	decode(t, resp, &rule)
	assert.Equal(t, model.SeverityCritical, rule.Severity)

	resp = call(http.MethodGet, "/api/v1/rules/CVE-0000-0000", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGraphQLEndpoint(t *testing.T) {
	_, call := newTestApp(t)

	resp := call(http.MethodPost, "/api/v1/graphql", `{"query": "{ rules { id severity } }"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data struct {
			Rules []struct {
				ID       string `json:"id"`
				Severity string `json:"severity"`
			} `json:"rules"`
		} `json:"data"`
	}
	decode(t, resp, &body)
	require.NotEmpty(t, body.Data.Rules)
	assert.Equal(t, "critical", body.Data.Rules[0].Severity)
}

func TestMetricsEndpoint(t *testing.T) {
	_, call := newTestApp(t)

	body, err := json.Marshal(ScanRequest{Path: projectDir(t, "15.2.1")})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, call(http.MethodPost, "/api/v1/scan", string(body)).StatusCode)

	resp := call(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()
	text, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), "lockscan_scans_total")
}
