package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of Realm operations with expectations.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is the path of the CUE schema to open with. Relative paths
	// resolve against the scenario file's directory.
	Schema string `yaml:"schema"`

	// Engine is "memory" (the default) or "sqlite".
	Engine string `yaml:"engine,omitempty"`

	// IDs feed the id generator for classes without a primary key.
	IDs []string `yaml:"ids,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step holds exactly one action and an optional expectation.
type Step struct {
	// Write runs its operations in one transaction.
	Write []Op `yaml:"write,omitempty"`

	// Concurrent runs one write per entry from separate goroutines.
	Concurrent [][]Op `yaml:"concurrent,omitempty"`

	Query   *QueryStep `yaml:"query,omitempty"`
	Refresh bool       `yaml:"refresh,omitempty"`
	Close   bool       `yaml:"close,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// Op is one operation inside a write transaction. Exactly one field is
// set.
type Op struct {
	Copy        *CopyOp    `yaml:"copy,omitempty"`
	Delete      *ObjectRef `yaml:"delete,omitempty"`
	DeleteClass string     `yaml:"delete_class,omitempty"`
	DeleteAll   bool       `yaml:"delete_all,omitempty"`

	// Cancel rolls the transaction back; later operations still run.
	Cancel bool `yaml:"cancel,omitempty"`

	// Fail ends the closure with this error message.
	Fail string `yaml:"fail,omitempty"`
}

// CopyOp copies a new object into the realm.
type CopyOp struct {
	Class  string         `yaml:"class"`
	ID     string         `yaml:"id,omitempty"`
	Fields map[string]any `yaml:"fields"`

	// Policy is "error" (the default) or "all".
	Policy string `yaml:"policy,omitempty"`
}

// ObjectRef names one object.
type ObjectRef struct {
	Class string `yaml:"class"`
	ID    string `yaml:"id"`
}

// QueryStep reads from the published snapshot.
type QueryStep struct {
	Class     string `yaml:"class"`
	Predicate string `yaml:"predicate,omitempty"`
	Args      []any  `yaml:"args,omitempty"`
}

// ExpectClause checks the outcome of a step. Unset fields are not checked.
type ExpectClause struct {
	// Error is a substring the step's error must contain. Empty means the
	// step must succeed.
	Error string `yaml:"error,omitempty"`

	// IDs are the ids a write created or a query returned, in order.
	IDs []string `yaml:"ids,omitempty"`

	Count   *int   `yaml:"count,omitempty"`
	Version uint64 `yaml:"version,omitempty"`
}

// Assertion validates the final state or the trace.
type Assertion struct {
	// Type is one of version, count, object, absent, closed, trace_count.
	Type string `yaml:"type"`

	Class     string         `yaml:"class,omitempty"`
	ID        string         `yaml:"id,omitempty"`
	Predicate string         `yaml:"predicate,omitempty"`
	Args      []any          `yaml:"args,omitempty"`
	Expect    map[string]any `yaml:"expect,omitempty"`
	Count     int            `yaml:"count,omitempty"`
	Version   uint64         `yaml:"version,omitempty"`

	// Op is the trace operation counted by trace_count.
	Op string `yaml:"op,omitempty"`
}

// Assertion type constants.
const (
	AssertVersion    = "version"
	AssertCount      = "count"
	AssertObject     = "object"
	AssertAbsent     = "absent"
	AssertClosed     = "closed"
	AssertTraceCount = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected and the schema path is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}
	if _, err := os.Stat(scenario.Schema); err != nil {
		return nil, fmt.Errorf("invalid scenario: schema file not found: %s", scenario.Schema)
	}
	return scenario, nil
}

// ParseScenario parses and validates scenario YAML without touching the
// filesystem.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	switch s.Engine {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("unknown engine %q", s.Engine)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	actions := 0
	if s.Write != nil {
		actions++
	}
	if s.Concurrent != nil {
		actions++
	}
	if s.Query != nil {
		actions++
	}
	if s.Refresh {
		actions++
	}
	if s.Close {
		actions++
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one of write, concurrent, query, refresh, close is required (got %d)", index, actions)
	}

	for j, op := range s.Write {
		if err := validateOp(op); err != nil {
			return fmt.Errorf("steps[%d].write[%d]: %w", index, j, err)
		}
	}
	for j, ops := range s.Concurrent {
		for k, op := range ops {
			if err := validateOp(op); err != nil {
				return fmt.Errorf("steps[%d].concurrent[%d][%d]: %w", index, j, k, err)
			}
		}
	}
	if s.Query != nil && s.Query.Class == "" {
		return fmt.Errorf("steps[%d].query: class is required", index)
	}
	return nil
}

func validateOp(op Op) error {
	set := 0
	if op.Copy != nil {
		set++
		if op.Copy.Class == "" {
			return fmt.Errorf("copy: class is required")
		}
		switch op.Copy.Policy {
		case "", "error", "all":
		default:
			return fmt.Errorf("copy: unknown policy %q", op.Copy.Policy)
		}
	}
	if op.Delete != nil {
		set++
		if op.Delete.Class == "" || op.Delete.ID == "" {
			return fmt.Errorf("delete: class and id are required")
		}
	}
	if op.DeleteClass != "" {
		set++
	}
	if op.DeleteAll {
		set++
	}
	if op.Cancel {
		set++
	}
	if op.Fail != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one operation is required (got %d)", set)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertVersion:
		if a.Version == 0 {
			return fmt.Errorf("assertions[%d]: version requires 'version' field", index)
		}
	case AssertCount:
		if a.Class == "" {
			return fmt.Errorf("assertions[%d]: count requires 'class' field", index)
		}
	case AssertObject:
		if a.Class == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: object requires 'class' and 'id' fields", index)
		}
	case AssertAbsent:
		if a.Class == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: absent requires 'class' and 'id' fields", index)
		}
	case AssertClosed:
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: trace_count requires 'op' field", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
