// Package roles provides role-configuration storage, parsing, and hot-reload.
//
// A parsed configuration is an immutable Snapshot. Reloads build a whole new
// Snapshot and swap it atomically; an in-flight request keeps whichever
// snapshot it started with, never a partially updated one.
package roles

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dls-engine/go-core/internal/filter"
	"github.com/dls-engine/go-core/pkg/types"
)

// Privilege is the access a role grants on indices matching one pattern.
// A nil Query means unrestricted visibility for the permitted operations.
type Privilege struct {
	Operations []types.Operation
	Query      filter.Query
}

// Grants reports whether the privilege covers the requested operation.
func (p *Privilege) Grants(op types.Operation) bool {
	for _, granted := range p.Operations {
		if granted.Covers(op) {
			return true
		}
	}
	return false
}

// Role is a named bundle of privileges keyed by index-name pattern.
type Role struct {
	Name    string
	Cluster []string
	Indices map[string]*Privilege
}

// PrivilegesFor returns the privileges whose index pattern matches the target
// index, in deterministic (sorted-pattern) order.
func (r *Role) PrivilegesFor(index string) []*Privilege {
	patterns := make([]string, 0, len(r.Indices))
	for pattern := range r.Indices {
		if MatchPattern(pattern, index) {
			patterns = append(patterns, pattern)
		}
	}
	sort.Strings(patterns)

	privs := make([]*Privilege, 0, len(patterns))
	for _, pattern := range patterns {
		privs = append(privs, r.Indices[pattern])
	}
	return privs
}

// MatchPattern matches an index name against a role index pattern.
// Supported forms: "*", "prefix-*", "*-suffix", exact name.
func MatchPattern(pattern, index string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(index, pattern[:len(pattern)-1])
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(index, pattern[1:])
	}
	return pattern == index
}

// Snapshot is one immutable role-configuration generation. Roles and their
// filter ASTs are never mutated after the snapshot is built.
type Snapshot struct {
	roles    map[string]*Role
	loadedAt time.Time
	version  uint64
}

// NewSnapshot builds a snapshot from parsed roles.
func NewSnapshot(roles map[string]*Role) *Snapshot {
	if roles == nil {
		roles = make(map[string]*Role)
	}
	return &Snapshot{
		roles:    roles,
		loadedAt: time.Now(),
	}
}

// Role returns the named role, if defined in this snapshot.
func (s *Snapshot) Role(name string) (*Role, bool) {
	r, ok := s.roles[name]
	return r, ok
}

// RoleNames returns the defined role names in sorted order.
func (s *Snapshot) RoleNames() []string {
	names := make([]string, 0, len(s.roles))
	for name := range s.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Version returns the snapshot generation number assigned by the store.
func (s *Snapshot) Version() uint64 { return s.version }

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Store holds the current role-configuration snapshot. Reads are a single
// atomic pointer load; a reload swaps the pointer, so per-request reads never
// lock.
type Store struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
	logger  *zap.Logger
}

// NewStore creates a store seeded with an empty snapshot.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{logger: logger}
	s.current.Store(NewSnapshot(nil))
	return s
}

// Snapshot returns the current configuration snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Swap atomically replaces the current snapshot.
func (s *Store) Swap(snap *Snapshot) {
	snap.version = s.version.Add(1)
	s.current.Store(snap)

	s.logger.Info("Role configuration snapshot swapped",
		zap.Uint64("version", snap.version),
		zap.Strings("roles", snap.RoleNames()),
	)
}
