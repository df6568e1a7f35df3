package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// sourceDirs is the merge priority order: later sources override
// earlier ones by deep-merge.
var sourceDirs = []string{"base", "project", "archon"}

// Store loads and caches manifests per (environment, name). Cached
// entries are immutable; invalidation is explicit.
type Store struct {
	dir         string
	environment string
	logger      *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Manifest // key: environment + "/" + name
}

// NewStore creates a store rooted at dir for the given environment.
func NewStore(dir, environment string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:         dir,
		environment: environment,
		logger:      logger,
		cache:       make(map[string]*Manifest),
	}
}

// Load returns the fully merged manifest for name. Sources are merged
// in priority order base → project → archon, extends chains resolved
// recursively, and the environment overlay applied once at the top of
// the merge tree. Parent manifests never receive the overlay; applying
// it per-parent would leak one environment's overrides into another's
// cached parents.
func (s *Store) Load(name string) (*Manifest, error) {
	key := s.environment + "/" + name

	s.mu.RLock()
	if m, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return m, nil
	}
	s.mu.RUnlock()

	merged, err := s.resolve(name, map[string]bool{})
	if err != nil {
		return nil, err
	}

	overlay, err := s.environmentOverlay()
	if err != nil {
		return nil, err
	}
	if overlay != nil {
		merged = DeepMerge(merged, overlay)
	}

	if err := validateMerged(name, merged); err != nil {
		return nil, err
	}

	m, err := decode(name, merged)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	// A concurrent loader may have won the race; keep the first entry so
	// readers always observe one immutable value per key.
	if existing, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.cache[key] = m
	s.mu.Unlock()

	s.logger.Debug("manifest loaded",
		zap.String("name", name),
		zap.String("environment", s.environment),
		zap.Int("operations", len(m.Operations)),
		zap.Int("domains", len(m.Domains)))
	return m, nil
}

// Invalidate drops the cached entry for name in this environment.
func (s *Store) Invalidate(name string) {
	s.mu.Lock()
	delete(s.cache, s.environment+"/"+name)
	s.mu.Unlock()
}

// InvalidateAll drops every cached entry.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string]*Manifest)
	s.mu.Unlock()
}

// resolve merges all priority sources for name and recursively resolves
// extends chains. The environment overlay is deliberately NOT applied
// here; see Load.
func (s *Store) resolve(name string, visiting map[string]bool) (map[string]interface{}, error) {
	if visiting[name] {
		return nil, &LoadError{Name: name, Detail: "extends cycle detected"}
	}
	visiting[name] = true
	defer delete(visiting, name)

	doc, found, err := s.readSources(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &LoadError{Name: name, Detail: "no manifest file found in any source"}
	}

	// Resolve parents first: children override parents by deep-merge.
	extends := stringSlice(doc["extends"])
	merged := map[string]interface{}{}
	for _, parent := range extends {
		parentDoc, err := s.resolve(parent, visiting)
		if err != nil {
			return nil, err
		}
		merged = DeepMerge(merged, parentDoc)
	}
	merged = DeepMerge(merged, doc)
	// The resolved extends chain is meta, not policy.
	delete(merged, "extends")

	return merged, nil
}

// readSources reads and merges name.json from each source directory in
// priority order. Returns found=false when no source has the file.
func (s *Store) readSources(name string) (map[string]interface{}, bool, error) {
	merged := map[string]interface{}{}
	found := false

	for _, src := range sourceDirs {
		path := filepath.Join(s.dir, src, name+".json")
		doc, ok, err := readJSONFile(name, path)
		if err != nil {
			return nil, false, err
		}
		if ok {
			merged = DeepMerge(merged, doc)
			found = true
		}
	}

	// Flat layout fallback: a manifest directly under the root dir.
	if !found {
		path := filepath.Join(s.dir, name+".json")
		doc, ok, err := readJSONFile(name, path)
		if err != nil {
			return nil, false, err
		}
		if ok {
			merged = doc
			found = true
		}
	}

	return merged, found, nil
}

// environmentOverlay reads manifests/environments/{env}.json if present.
func (s *Store) environmentOverlay() (map[string]interface{}, error) {
	if s.environment == "" {
		return nil, nil
	}
	path := filepath.Join(s.dir, "environments", s.environment+".json")
	doc, ok, err := readJSONFile("environments/"+s.environment, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return doc, nil
}

func readJSONFile(name, path string) (map[string]interface{}, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, &LoadError{Name: name, Detail: "read failed", Err: err}
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, &LoadError{Name: name, Detail: "invalid JSON", Err: err}
	}
	return doc, true, nil
}

func decode(name string, doc map[string]interface{}) (*Manifest, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, &LoadError{Name: name, Detail: "re-marshal failed", Err: err}
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &LoadError{Name: name, Detail: "decode failed", Err: err}
	}
	return &m, nil
}

func stringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// --- Query surface ---

// OperationContract returns the per-operation entry, falling back to a
// wildcard "*" entry when defined.
func (m *Manifest) OperationContract(op string) (OperationConfig, bool) {
	if c, ok := m.Operations[op]; ok {
		return c, true
	}
	if c, ok := m.Operations["*"]; ok {
		return c, true
	}
	return OperationConfig{}, false
}

// DomainContract returns the domain entry, else default_constraints,
// else safe defaults.
func (m *Manifest) DomainContract(domain string) DomainConfig {
	if c, ok := m.Domains[domain]; ok {
		return c
	}
	if m.DefaultConstraints != nil {
		return *m.DefaultConstraints
	}
	return safeDomainDefaults()
}

// IsDomainEnabled reports whether the domain may execute operations.
func (m *Manifest) IsDomainEnabled(domain string) bool {
	return m.DomainContract(domain).Enabled
}

// DomainKnown reports whether the domain has an explicit entry.
func (m *Manifest) DomainKnown(domain string) bool {
	_, ok := m.Domains[domain]
	return ok || m.DefaultConstraints != nil
}

// RiskLevel returns the operation's manifest risk, or def when the
// operation has no entry.
func (m *Manifest) RiskLevel(op string, def float64) float64 {
	c, ok := m.OperationContract(op)
	if !ok {
		return def
	}
	return c.Risk(def)
}

func (m *Manifest) String() string {
	return fmt.Sprintf("manifest{version=%s domains=%d operations=%d}", m.Version, len(m.Domains), len(m.Operations))
}
