// Package rules loads declarative CVE rules. Rules ship embedded in the binary and can be
// extended or overridden from a directory of JSON documents, either in the native rule format
// or as OSV advisories.
package rules

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/ortelius/lockscan/model"
	"github.com/ortelius/lockscan/util"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// PrimaryRuleID is the rule every scan uses unless another CVE is requested.
const PrimaryRuleID = "CVE-2025-55182"

var (
	// ErrPrimaryRuleMissing means the primary rule could not be loaded; scanning cannot proceed.
	ErrPrimaryRuleMissing = errors.New("primary CVE rule is missing")
	// ErrRuleNotFound is returned by Get for an unknown rule ID.
	ErrRuleNotFound = errors.New("CVE rule not found")
)

//go:embed builtin/*.json
var builtinFS embed.FS

// Store holds the loaded rules. It is built once by the caller and shared; loading happens
// lazily on first use and the first successful load is kept.
type Store struct {
	dir       string
	primaryID string
	logger    *zap.Logger

	mu      sync.Mutex
	loaded  bool
	rules   map[string]*model.CVERule
	aliases map[string]string
}

// Option configures a Store.
type Option func(*Store)

// WithDir adds a directory of rule documents loaded after the embedded rules.
func WithDir(dir string) Option {
	return func(s *Store) { s.dir = dir }
}

// WithPrimary changes the rule that must be present for the store to load.
func WithPrimary(id string) Option {
	return func(s *Store) {
		if id != "" {
			s.primaryID = id
		}
	}
}

// WithLogger sets the logger used for skipped documents.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = util.OrNop(logger) }
}

// NewStore creates an unloaded Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		primaryID: PrimaryRuleID,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PrimaryID returns the ID of the rule the store requires.
func (s *Store) PrimaryID() string {
	return s.primaryID
}

// Load reads all rule sources. It is idempotent; a failed load is retried on the next call.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() error {
	if s.loaded {
		return nil
	}

	rules := map[string]*model.CVERule{}
	aliases := map[string]string{}

	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		return fmt.Errorf("failed to open embedded rules: %w", err)
	}
	s.loadFS(sub, "embedded", rules, aliases)

	if s.dir != "" {
		if util.DirExists(s.dir) {
			s.loadFS(os.DirFS(s.dir), s.dir, rules, aliases)
		} else {
			s.logger.Warn("Rules directory does not exist", zap.String("dir", s.dir))
		}
	}

	if _, ok := lookup(rules, aliases, s.primaryID); !ok {
		return fmt.Errorf("%s: %w", s.primaryID, ErrPrimaryRuleMissing)
	}

	s.rules = rules
	s.aliases = aliases
	s.loaded = true
	s.logger.Debug("Loaded CVE rules", zap.Int("count", len(rules)))
	return nil
}

// loadFS decodes every *.json document at the top level of fsys. Later sources override
// earlier ones with the same ID.
func (s *Store) loadFS(fsys fs.FS, source string, rules map[string]*model.CVERule, aliases map[string]string) {
	names, err := fs.Glob(fsys, "*.json")
	if err != nil {
		s.logger.Warn("Failed to list rules", zap.String("source", source), zap.Error(err))
		return
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			s.logger.Warn("Failed to read rule", zap.String("source", source), zap.String("file", name), zap.Error(err))
			continue
		}

		rule, ruleAliases, err := ParseRule(data)
		if err != nil {
			s.logger.Warn("Skipping rule document", zap.String("source", source), zap.String("file", path.Base(name)), zap.Error(err))
			continue
		}
		if _, exists := rules[rule.ID]; exists {
			s.logger.Debug("Overriding rule", zap.String("id", rule.ID), zap.String("source", source))
		}
		rules[rule.ID] = rule
		for _, alias := range ruleAliases {
			if alias != rule.ID {
				aliases[alias] = rule.ID
			}
		}
	}
}

// ParseRule decodes a rule document. OSV advisories are recognised by their "affected" array
// and converted; their aliases are returned so the rule can also be found by CVE ID.
func ParseRule(data []byte) (*model.CVERule, []string, error) {
	if !gjson.ValidBytes(data) {
		return nil, nil, errors.New("invalid JSON")
	}
	if gjson.GetBytes(data, "affected").IsArray() {
		return ParseOSV(data)
	}

	var rule model.CVERule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, nil, fmt.Errorf("invalid rule: %w", err)
	}
	if err := Validate(&rule); err != nil {
		return nil, nil, err
	}
	return &rule, nil, nil
}

// Validate checks the fields every rule needs.
func Validate(rule *model.CVERule) error {
	if strings.TrimSpace(rule.ID) == "" {
		return errors.New("rule has no id")
	}
	if len(rule.Packages)+len(rule.Frameworks) == 0 {
		return fmt.Errorf("rule %s lists no packages", rule.ID)
	}
	for _, entry := range rule.Entries() {
		if entry.Name == "" || entry.Vulnerable == "" {
			return fmt.Errorf("rule %s has an entry without name or vulnerable range", rule.ID)
		}
		if len(entry.Fixed) == 0 {
			return fmt.Errorf("rule %s entry %s lists no fixed versions", rule.ID, entry.Name)
		}
	}
	if rule.Severity == "" {
		rule.Severity = model.SeverityUnknown
	}
	if rule.Frameworks == nil {
		rule.Frameworks = []model.RulePackage{}
	}
	if rule.Packages == nil {
		rule.Packages = []model.RulePackage{}
	}
	return nil
}

func lookup(rules map[string]*model.CVERule, aliases map[string]string, id string) (*model.CVERule, bool) {
	if rule, ok := rules[id]; ok {
		return rule, true
	}
	if target, ok := aliases[id]; ok {
		rule, ok := rules[target]
		return rule, ok
	}
	return nil, false
}

// Get returns the rule with the given ID or alias.
func (s *Store) Get(id string) (*model.CVERule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	rule, ok := lookup(s.rules, s.aliases, id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrRuleNotFound)
	}
	return rule, nil
}

// Primary returns the primary rule.
func (s *Store) Primary() (*model.CVERule, error) {
	rule, err := s.Get(s.primaryID)
	if errors.Is(err, ErrRuleNotFound) {
		return nil, fmt.Errorf("%s: %w", s.primaryID, ErrPrimaryRuleMissing)
	}
	return rule, err
}

// All returns every loaded rule sorted by ID.
func (s *Store) All() ([]*model.CVERule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	all := make([]*model.CVERule, 0, len(s.rules))
	for _, rule := range s.rules {
		all = append(all, rule)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}
