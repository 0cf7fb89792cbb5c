package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ortelius/lockscan/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *model.ScanResult {
	result := model.NewScanResult("CVE-2025-55182")
	result.AddProject(model.NewProjectResult("web", "/repo/web", "nextjs", []model.Finding{
		{Package: "next", CurrentVersion: "15.2.1", FixedVersion: "15.2.6", Severity: model.SeverityCritical},
	}))
	result.AddProject(model.NewProjectResult("api", "/repo/api", "express", nil))
	result.AddError("boom")
	return result
}

func TestObserveScan(t *testing.T) {
	r := NewRecorder()
	r.ObserveScan(KindDirectory, sampleResult(), 250*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.scans.WithLabelValues(KindDirectory, "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.projects.WithLabelValues("nextjs")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.projects.WithLabelValues("express")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.findings.WithLabelValues("critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errors.WithLabelValues(KindDirectory)))
	assert.Equal(t, 1, testutil.CollectAndCount(r.duration))
}

func TestObserveLockfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveLockfile("npm", LockfileParsed)
	r.ObserveLockfile("npm", LockfileInherited)
	r.ObserveLockfile("", LockfileMissing)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.lockfiles.WithLabelValues("npm", LockfileParsed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.lockfiles.WithLabelValues("none", LockfileMissing)))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveScan(KindSBOM, sampleResult(), time.Second)
		r.ObserveLockfile("yarn", LockfileParsed)
	})
	assert.Nil(t, r.Registry())
}

func TestHandler(t *testing.T) {
	r := NewRecorder()
	r.ObserveScan(KindSBOM, sampleResult(), time.Second)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `lockscan_scans_total{kind="sbom",vulnerable="true"} 1`))
}
