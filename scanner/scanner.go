// Package scanner ties discovery, lockfile parsing, framework classification and rule matching
// together into the two scan entry points: Scan for a directory tree and ScanSBOM for a
// CycloneDX document.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ortelius/lockscan/framework"
	"github.com/ortelius/lockscan/lockfile"
	"github.com/ortelius/lockscan/manifest"
	"github.com/ortelius/lockscan/matcher"
	"github.com/ortelius/lockscan/metrics"
	"github.com/ortelius/lockscan/model"
	"github.com/ortelius/lockscan/rules"
	"github.com/ortelius/lockscan/util"
	"github.com/ortelius/lockscan/walker"
	"github.com/ortelius/lockscan/workspace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options tunes a single scan.
type Options struct {
	CVE      string   // Rule to evaluate; the store's primary rule when empty
	Ignore   []string // Extra directory names or doublestar patterns to skip
	MaxDepth int      // Discovery depth; walker.DefaultMaxDepth when zero
	Workers  int      // Projects scanned in parallel; runtime.NumCPU when zero
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

// Scanner runs scans. It is safe for concurrent use.
type Scanner struct {
	rules      *rules.Store
	parsers    []lockfile.Parser
	sbom       *lockfile.SBOMParser
	workspaces *workspace.Resolver
	metrics    *metrics.Recorder
	logger     *zap.Logger
}

// New creates a Scanner evaluating rules from store. logger and recorder may be nil.
func New(store *rules.Store, logger *zap.Logger, recorder *metrics.Recorder) *Scanner {
	logger = util.OrNop(logger)
	return &Scanner{
		rules:      store,
		parsers:    lockfile.DefaultParsers(logger),
		sbom:       lockfile.NewSBOMParser(logger),
		workspaces: workspace.NewResolver(logger),
		metrics:    recorder,
		logger:     logger,
	}
}

// Rules returns the store the scanner evaluates.
func (s *Scanner) Rules() *rules.Store {
	return s.rules
}

func (s *Scanner) rule(id string) (*model.CVERule, error) {
	if id == "" {
		return s.rules.Primary()
	}
	return s.rules.Get(id)
}

// project is one unit of scanning work.
type project struct {
	dir     string
	root    bool // workspace root, whose lockfile was already parsed
	inherit bool // may fall back to the workspace root's lockfile
}

// Scan scans every project under root. The returned result is never nil. The error is non-nil
// only when the rule cannot be loaded or ctx ends before the scan completes; in both cases the
// result carries the reason in Errors as well. Problems with the input itself are reported
// in the result only.
func (s *Scanner) Scan(ctx context.Context, root string, opts Options) (*model.ScanResult, error) {
	start := time.Now()

	rule, err := s.rule(opts.CVE)
	if err != nil {
		result := model.NewScanResult(opts.CVE)
		result.AddError(err.Error())
		return result, err
	}
	result := model.NewScanResult(rule.ID)

	if !util.DirExists(root) {
		if _, statErr := os.Stat(root); statErr != nil {
			result.AddError(fmt.Sprintf("path does not exist: %s", root))
		} else {
			result.AddError(fmt.Sprintf("path is not a directory: %s", root))
		}
		return result, nil
	}
	if abs, absErr := filepath.Abs(root); absErr == nil {
		root = abs
	}

	projects, rootPkgs, err := s.discover(root, opts)
	if err != nil {
		result.AddError(fmt.Sprintf("failed to discover projects: %v", err))
	}

	s.logger.Debug("Scanning projects", zap.String("root", root), zap.Int("projects", len(projects)), zap.String("cve", rule.ID))

	results := make([]*model.ProjectResult, len(projects))
	errs := make([]string, len(projects))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for i, p := range projects {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = fmt.Sprintf("%s: %v", p.dir, err)
				return nil
			}
			own, inherited := lockfile.NotPresent(), lockfile.NotPresent()
			if p.root {
				own = rootPkgs
			}
			if p.inherit {
				inherited = rootPkgs
			}
			pr, err := s.scanProject(p.dir, rule, own, inherited)
			if err != nil {
				errs[i] = fmt.Sprintf("%s: %v", p.dir, err)
				return nil
			}
			results[i] = pr
			return nil
		})
	}
	_ = g.Wait()

	for i := range projects {
		if results[i] != nil {
			result.AddProject(*results[i])
		}
		if errs[i] != "" {
			result.AddError(errs[i])
		}
	}

	s.metrics.ObserveScan(metrics.KindDirectory, result, time.Since(start))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// discover lists the projects to scan in discovery order. For a workspace the root comes first,
// followed by its members, and the root lockfile is returned for members to inherit.
func (s *Scanner) discover(root string, opts Options) ([]project, lockfile.Result, error) {
	info := s.workspaces.Resolve(root)
	if info.IsWorkspace() {
		projects := []project{{dir: info.RootPath, root: true}}
		for _, member := range info.Packages {
			rel, err := filepath.Rel(info.RootPath, member)
			if err != nil || walker.IsIgnored(rel, opts.Ignore) {
				continue
			}
			projects = append(projects, project{dir: member, inherit: true})
		}
		return projects, lockfile.Detect(info.RootPath, s.parsers), nil
	}

	dirs, err := walker.FindProjects(root, walker.Options{MaxDepth: opts.MaxDepth, Ignore: opts.Ignore})
	projects := make([]project, 0, len(dirs))
	for _, dir := range dirs {
		projects = append(projects, project{dir: dir})
	}
	return projects, lockfile.NotPresent(), err
}

// scanProject evaluates one project directory; panics come back as errors. own is the
// project's lockfile when the caller already parsed it, inherited the workspace root's
// lockfile used when the project has none of its own.
func (s *Scanner) scanProject(dir string, rule *model.CVERule, own, inherited lockfile.Result) (pr *model.ProjectResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic while scanning project", zap.String("dir", dir), zap.Any("panic", r))
			pr, err = nil, fmt.Errorf("panic while scanning: %v", r)
		}
	}()

	decl, manifestErr := manifest.Read(dir)
	if manifestErr != nil {
		s.logger.Debug("No usable manifest", zap.String("dir", dir), zap.Error(manifestErr))
		decl = nil
	}

	res := own
	if !res.IsFound() {
		res = lockfile.Detect(dir, s.parsers)
	}
	outcome := metrics.LockfileParsed
	if !res.IsFound() && inherited.IsFound() {
		res = inherited
		outcome = metrics.LockfileInherited
	}
	if !res.IsFound() {
		outcome = metrics.LockfileMissing
	}
	s.metrics.ObserveLockfile(string(res.Format), outcome)

	findings := matcher.Match(rule, res.Packages)

	name := filepath.Base(dir)
	if decl != nil && decl.Name != "" {
		name = decl.Name
	}

	result := model.NewProjectResult(name, dir, framework.Classify(dir, decl, res.Packages), findings)
	return &result, nil
}

// ScanSBOM evaluates a CycloneDX SBOM. The returned result is never nil; the error follows
// the same rules as Scan.
func (s *Scanner) ScanSBOM(ctx context.Context, path string, opts Options) (*model.ScanResult, error) {
	start := time.Now()

	rule, err := s.rule(opts.CVE)
	if err != nil {
		result := model.NewScanResult(opts.CVE)
		result.AddError(err.Error())
		return result, err
	}
	result := model.NewScanResult(rule.ID)

	if err := ctx.Err(); err != nil {
		result.AddError(err.Error())
		return result, err
	}

	if !util.FileExists(path) {
		result.AddError(fmt.Sprintf("path does not exist: %s", path))
		return result, nil
	}

	res := s.sbom.ParseFile(path)
	if !res.IsFound() {
		result.AddError(fmt.Sprintf("not a readable CycloneDX SBOM: %s", path))
		s.metrics.ObserveScan(metrics.KindSBOM, result, time.Since(start))
		return result, nil
	}
	s.metrics.ObserveLockfile(string(res.Format), metrics.LockfileParsed)

	name := res.Subject
	if name == "" {
		name = filepath.Base(path)
	}
	findings := matcher.Match(rule, res.Packages)
	result.AddProject(model.NewProjectResult(name, path, framework.Classify("", nil, res.Packages), findings))

	s.metrics.ObserveScan(metrics.KindSBOM, result, time.Since(start))
	return result, nil
}
