package graphql

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/graphql-go/graphql"
	"github.com/ortelius/lockscan/database"
	"github.com/ortelius/lockscan/model"
	"github.com/ortelius/lockscan/rules"
	"github.com/ortelius/lockscan/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memoryHistory struct {
	mu      sync.Mutex
	records []model.ScanRecord
	queries []database.HistoryQuery
}

func (h *memoryHistory) SaveScan(_ context.Context, rec *model.ScanRecord) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec.Key = "scan-1"
	h.records = append(h.records, *rec)
	return rec.Key, nil
}

func (h *memoryHistory) FindScans(_ context.Context, q database.HistoryQuery) ([]model.ScanRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queries = append(h.queries, q)
	return h.records, nil
}

func newResolver(t *testing.T, history History) *Resolver {
	return &Resolver{
		Scanner: scanner.New(rules.NewStore(), zaptest.NewLogger(t), nil),
		History: history,
		Logger:  zaptest.NewLogger(t),
	}
}

func vulnerableProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "package.json"), []byte(`{"name": "shop"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "package-lock.json"),
		[]byte(`{"lockfileVersion": 3, "packages": {"": {"name": "shop"}, "node_modules/next": {"version": "15.2.1"}}}`), 0o644))
	return root
}

func do(t *testing.T, r *Resolver, query string, vars map[string]interface{}) map[string]interface{} {
	t.Helper()
	schema, err := CreateSchema(r)
	require.NoError(t, err)

	result := graphql.Do(graphql.Params{
		Schema:         schema,
		RequestString:  query,
		VariableValues: vars,
		Context:        context.Background(),
	})
	require.Empty(t, result.Errors)

	// Round-trip through JSON so assertions see what clients see
	data, err := json.Marshal(result.Data)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestScanQuery(t *testing.T) {
	history := &memoryHistory{}
	r := newResolver(t, history)

	out := do(t, r, `query($path: String!) {
		scan(path: $path) {
			cve vulnerable scanTime
			projects { name framework vulnerable findings { package currentVersion fixedVersion severity } }
		}
	}`, map[string]interface{}{"path": vulnerableProject(t)})

	scan := out["scan"].(map[string]interface{})
	assert.Equal(t, rules.PrimaryRuleID, scan["cve"])
	assert.Equal(t, true, scan["vulnerable"])
	assert.NotEmpty(t, scan["scanTime"])

	projects := scan["projects"].([]interface{})
	require.Len(t, projects, 1)
	project := projects[0].(map[string]interface{})
	assert.Equal(t, "shop", project["name"])
	assert.Equal(t, "nextjs", project["framework"])

	findings := project["findings"].([]interface{})
	require.Len(t, findings, 1)
	assert.Equal(t, map[string]interface{}{
		"package":        "next",
		"currentVersion": "15.2.1",
		"fixedVersion":   "15.2.6",
		"severity":       "critical",
	}, findings[0])

	require.Len(t, history.records, 1)
	assert.Equal(t, "directory", history.records[0].Kind)
	assert.True(t, history.records[0].Vulnerable)
}

func TestScanQueryUnknownRule(t *testing.T) {
	schema, err := CreateSchema(newResolver(t, nil))
	require.NoError(t, err)

	result := graphql.Do(graphql.Params{
		Schema:        schema,
		RequestString: `{ scan(path: "/tmp", cve: "CVE-0000-0000") { cve } }`,
		Context:       context.Background(),
	})
	require.NotEmpty(t, result.Errors)
}

func TestRuleQueries(t *testing.T) {
	r := newResolver(t, nil)

	out := do(t, r, `{
		rule(id: "CVE-2025-55182") { id severity cvss packages { name } frameworks { name fixed } }
		missing: rule(id: "CVE-0000-0000") { id }
		rules { id }
	}`, nil)

	rule := out["rule"].(map[string]interface{})
	assert.Equal(t, "CVE-2025-55182", rule["id"])
	assert.Equal(t, "critical", rule["severity"])
	assert.Equal(t, 10.0, rule["cvss"])
	assert.NotEmpty(t, rule["packages"])
	assert.NotEmpty(t, rule["frameworks"])

	assert.Nil(t, out["missing"])
	assert.NotEmpty(t, out["rules"])
}

func TestHistoryQuery(t *testing.T) {
	history := &memoryHistory{}
	r := newResolver(t, history)

	_, err := r.Scan(context.Background(), vulnerableProject(t), nil, "")
	require.NoError(t, err)

	out := do(t, r, `{ history(package: "next") { key kind cve vulnerable findingCount purls } }`, nil)

	records := out["history"].([]interface{})
	require.Len(t, records, 1)
	rec := records[0].(map[string]interface{})
	assert.Equal(t, "scan-1", rec["key"])
	assert.Equal(t, "directory", rec["kind"])
	assert.Equal(t, 1.0, rec["findingCount"])
	assert.Equal(t, []interface{}{"pkg:npm/next@15.2.1"}, rec["purls"])

	require.Len(t, history.queries, 1)
	assert.Equal(t, database.HistoryQuery{Package: "next", Limit: 20}, history.queries[0])
}

func TestHistoryQueryWithoutDatabase(t *testing.T) {
	schema, err := CreateSchema(newResolver(t, nil))
	require.NoError(t, err)

	result := graphql.Do(graphql.Params{
		Schema:        schema,
		RequestString: `{ history { key } }`,
		Context:       context.Background(),
	})
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0].Message, "not connected")
}

func TestOptionsLayering(t *testing.T) {
	r := &Resolver{Defaults: scanner.Options{CVE: "CVE-1", Ignore: []string{"dist"}, Workers: 2}}

	opts := r.options("", []string{"build"})
	assert.Equal(t, "CVE-1", opts.CVE)
	assert.Equal(t, []string{"dist", "build"}, opts.Ignore)
	assert.Equal(t, 2, opts.Workers)
	assert.Equal(t, []string{"dist"}, r.Defaults.Ignore)

	assert.Equal(t, "CVE-2", r.options("CVE-2", nil).CVE)
}
