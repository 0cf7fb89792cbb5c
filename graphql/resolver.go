package graphql

import (
	"context"

	"github.com/ortelius/lockscan/database"
	"github.com/ortelius/lockscan/model"
	"github.com/ortelius/lockscan/scanner"
	"github.com/ortelius/lockscan/util"
	"go.uber.org/zap"
)

// History stores and queries past scans. *database.DBConnection implements it.
type History interface {
	SaveScan(ctx context.Context, rec *model.ScanRecord) (string, error)
	FindScans(ctx context.Context, q database.HistoryQuery) ([]model.ScanRecord, error)
}

// Resolver runs scans on behalf of the GraphQL schema and the REST handlers, recording each
// completed scan in History when one is configured.
type Resolver struct {
	Scanner  *scanner.Scanner
	Defaults scanner.Options // Base options; request values are layered on top
	History  History         // nil disables history
	Logger   *zap.Logger
}

func (r *Resolver) logger() *zap.Logger {
	return util.OrNop(r.Logger)
}

func (r *Resolver) options(cve string, ignore []string) scanner.Options {
	opts := r.Defaults
	if cve != "" {
		opts.CVE = cve
	}
	if len(ignore) > 0 {
		opts.Ignore = append(append([]string{}, r.Defaults.Ignore...), ignore...)
	}
	return opts
}

// Scan scans the directory tree at path.
func (r *Resolver) Scan(ctx context.Context, path string, ignore []string, cve string) (*model.ScanResult, error) {
	result, err := r.Scanner.Scan(ctx, path, r.options(cve, ignore))
	if err != nil {
		return result, err
	}
	r.record(ctx, "directory", path, result)
	return result, nil
}

// ScanSBOM scans the CycloneDX SBOM at path.
func (r *Resolver) ScanSBOM(ctx context.Context, path string, cve string) (*model.ScanResult, error) {
	result, err := r.Scanner.ScanSBOM(ctx, path, r.options(cve, nil))
	if err != nil {
		return result, err
	}
	r.record(ctx, "sbom", path, result)
	return result, nil
}

// record saves result to History. Failures are logged; the scan itself still succeeded.
func (r *Resolver) record(ctx context.Context, kind, target string, result *model.ScanResult) {
	if r.History == nil {
		return
	}
	rec := model.NewScanRecord(kind, target, result)
	if _, err := r.History.SaveScan(ctx, rec); err != nil {
		r.logger().Warn("Failed to store scan history", zap.String("target", target), zap.Error(err))
	}
}

// FindScans queries History.
func (r *Resolver) FindScans(ctx context.Context, q database.HistoryQuery) ([]model.ScanRecord, error) {
	if r.History == nil {
		return nil, database.ErrNotConnected
	}
	return r.History.FindScans(ctx, q)
}
