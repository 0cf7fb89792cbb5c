package database

import (
	"context"
	"testing"

	"github.com/ortelius/lockscan/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryAQLDefaults(t *testing.T) {
	query, bindVars := historyAQL(HistoryQuery{})

	assert.Contains(t, query, "FOR s IN scan")
	assert.Contains(t, query, "SORT s.scanTime DESC")
	assert.Equal(t, "", bindVars["cve"])
	assert.Equal(t, "", bindVars["purl"])
	assert.Equal(t, DefaultHistoryLimit, bindVars["limit"])
}

func TestHistoryAQLFilters(t *testing.T) {
	_, bindVars := historyAQL(HistoryQuery{CVE: "CVE-2025-55182", Package: "Next", Limit: 5})

	assert.Equal(t, "CVE-2025-55182", bindVars["cve"])
	assert.Equal(t, "pkg:npm/next", bindVars["purl"])
	assert.Equal(t, 5, bindVars["limit"])
}

func TestIndexesCoverHistoryFilters(t *testing.T) {
	fields := map[string]bool{}
	for _, idx := range indexes {
		assert.Equal(t, scanCollection, idx.Collection)
		fields[idx.IdxField] = true
	}
	assert.True(t, fields["cve"])
	assert.True(t, fields["scanTime"])
	assert.True(t, fields["basePurls[*]"])
}

func TestNilConnection(t *testing.T) {
	var db *DBConnection

	_, err := db.SaveScan(context.Background(), &model.ScanRecord{})
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = db.FindScans(context.Background(), HistoryQuery{})
	require.ErrorIs(t, err, ErrNotConnected)
}
