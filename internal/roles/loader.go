package roles

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dls-engine/go-core/internal/filter"
	"github.com/dls-engine/go-core/pkg/types"
)

// ConfigError reports a malformed role or filter definition. It is raised at
// configuration load and never silently ignored; the previous snapshot stays
// active when a reload fails with one.
type ConfigError struct {
	Role   string
	Detail string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid role configuration (role %q): %s: %v", e.Role, e.Detail, e.Err)
	}
	return fmt.Sprintf("invalid role configuration (role %q): %s", e.Role, e.Detail)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// stringList accepts both the scalar and list YAML spellings:
//
//	cluster: all
//	cluster: [all, monitor]
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = []string{s}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("expected scalar or sequence, got yaml kind %d", node.Kind)
	}
}

// roleFile is the on-disk roles document:
//
//	role1:
//	  cluster: all
//	  indices:
//	    "*":
//	      privileges: all
//	      query:
//	        term: {field1: value1}
type roleFile map[string]roleDef

type roleDef struct {
	Cluster stringList          `yaml:"cluster"`
	Indices map[string]indexDef `yaml:"indices"`
}

type indexDef struct {
	Privileges stringList `yaml:"privileges"`
	Query      yaml.Node  `yaml:"query"`
}

// Loader parses role-configuration files into snapshots. Filter queries are
// parsed and compiled exactly once here; the resulting ASTs are shared
// read-only by every request against the snapshot.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a new role-configuration loader.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

// LoadFile parses a roles YAML file into a snapshot.
func (l *Loader) LoadFile(path string) (*Snapshot, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles file: %w", err)
	}
	return l.Load(content)
}

// Load parses a roles document into a snapshot.
func (l *Loader) Load(content []byte) (*Snapshot, error) {
	var file roleFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse roles document: %w", err)
	}

	parsed := make(map[string]*Role, len(file))
	for name, def := range file {
		role, err := l.buildRole(name, def)
		if err != nil {
			return nil, err
		}
		parsed[name] = role
	}

	l.logger.Info("Role configuration loaded",
		zap.Int("roles", len(parsed)),
	)

	return NewSnapshot(parsed), nil
}

func (l *Loader) buildRole(name string, def roleDef) (*Role, error) {
	role := &Role{
		Name:    name,
		Cluster: def.Cluster,
		Indices: make(map[string]*Privilege, len(def.Indices)),
	}

	for pattern, idx := range def.Indices {
		priv, err := l.buildPrivilege(name, pattern, idx)
		if err != nil {
			return nil, err
		}
		role.Indices[pattern] = priv
	}

	return role, nil
}

func (l *Loader) buildPrivilege(role, pattern string, def indexDef) (*Privilege, error) {
	if len(def.Privileges) == 0 {
		return nil, &ConfigError{Role: role, Detail: fmt.Sprintf("index pattern %q has no privileges", pattern)}
	}

	ops := make([]types.Operation, 0, len(def.Privileges))
	for _, raw := range def.Privileges {
		op, err := parseOperation(raw)
		if err != nil {
			return nil, &ConfigError{Role: role, Detail: fmt.Sprintf("index pattern %q", pattern), Err: err}
		}
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })

	priv := &Privilege{Operations: ops}

	if !def.Query.IsZero() {
		q, err := l.parseQueryNode(&def.Query)
		if err != nil {
			return nil, &ConfigError{Role: role, Detail: fmt.Sprintf("index pattern %q query", pattern), Err: err}
		}
		if filter.ContainsJoin(q) {
			return nil, &ConfigError{Role: role, Detail: fmt.Sprintf("index pattern %q query must not contain join queries", pattern)}
		}
		priv.Query = q
	}

	return priv, nil
}

// parseQueryNode accepts the two spellings the roles format allows: a
// structured filter object, or a raw serialized JSON query string. Both
// normalize into the same AST.
func (l *Loader) parseQueryNode(node *yaml.Node) (filter.Query, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		var raw string
		if err := node.Decode(&raw); err != nil {
			return nil, err
		}
		return filter.ParseRaw(raw)
	case yaml.MappingNode:
		var obj map[string]interface{}
		if err := node.Decode(&obj); err != nil {
			return nil, err
		}
		obj = normalizeYAML(obj)
		return filter.FromMap(obj)
	default:
		return nil, fmt.Errorf("query must be an object or a serialized query string")
	}
}

// normalizeYAML coerces scalar values decoded by yaml into the string form
// the query builder expects (yaml decodes bare scalars as typed values).
func normalizeYAML(obj map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return normalizeYAML(t)
	case []interface{}:
		items := make([]interface{}, len(t))
		for i, item := range t {
			items[i] = normalizeValue(item)
		}
		return items
	case string, nil:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func parseOperation(raw string) (types.Operation, error) {
	switch types.Operation(strings.ToLower(raw)) {
	case types.OpAll:
		return types.OpAll, nil
	case types.OpRead:
		return types.OpRead, nil
	case types.OpWrite:
		return types.OpWrite, nil
	case types.OpGet:
		return types.OpGet, nil
	case types.OpSearch:
		return types.OpSearch, nil
	case types.OpPercolate:
		return types.OpPercolate, nil
	default:
		return "", fmt.Errorf("unknown privilege: %s", raw)
	}
}
