package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/treesync/internal/testutil"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// InitialState is the default state of every instance that does not
	// declare its own.
	InitialState map[string]any `yaml:"initial_state"`

	// Store seeds the shared store before any instance attaches.
	Store map[string]any `yaml:"store,omitempty"`

	// Instances are attached in order; each one finishes bootstrap before
	// the next attaches.
	Instances []Instance `yaml:"instances"`

	// Steps run after every instance is attached.
	Steps []Step `yaml:"steps,omitempty"`

	// Assertions validate the final trees, store and calls.
	Assertions []Assertion `yaml:"assertions"`
}

// Instance configures one engine.
type Instance struct {
	ID            string         `yaml:"id"`
	Leader        bool           `yaml:"leader,omitempty"`
	StoredVersion *int64         `yaml:"stored_version,omitempty"`
	PersistedKeys []string       `yaml:"persisted_keys,omitempty"`
	InitialState  map[string]any `yaml:"initial_state,omitempty"`

	// FailOnAttach lists store call kinds that fail once, starting with
	// bootstrap.
	FailOnAttach []string `yaml:"fail_on_attach,omitempty"`
}

// Step is one action of a scenario.
type Step struct {
	// Op is one of set, merge, remote, fail, detach.
	Op string `yaml:"op"`

	// Instance is the target of set, merge, fail and detach.
	Instance string `yaml:"instance,omitempty"`

	// Path is a dotted path (set, merge, remote).
	Path string `yaml:"path,omitempty"`

	// Value is the value of a set, or of a remote update.
	Value any `yaml:"value,omitempty"`

	// Merged is the merge descriptor of a merge, or of a remote update.
	Merged map[string]any `yaml:"merged,omitempty"`

	// Origin is the instance id carried by a remote update. Without it (and
	// without Payload) a remote step writes Items only.
	Origin string `yaml:"origin,omitempty"`

	// Payload is written verbatim as the update record of a remote step.
	Payload string `yaml:"payload,omitempty"`

	// Items are the raw key values written by a remote step.
	Items map[string]any `yaml:"items,omitempty"`

	// Call is the store call kind a fail step breaks.
	Call string `yaml:"call,omitempty"`
}

// Step op constants.
const (
	OpSet    = "set"
	OpMerge  = "merge"
	OpRemote = "remote"
	OpFail   = "fail"
	OpDetach = "detach"
)

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type is one of tree, store, calls, errors, lifecycle.
	Type string `yaml:"type"`

	// Instance is the instance checked by tree, calls, errors and lifecycle.
	Instance string `yaml:"instance,omitempty"`

	// Expect is the expected tree (tree) or expected store entries (store).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Call is the store call kind counted by calls.
	Call string `yaml:"call,omitempty"`

	// Count is the expected number of calls or errors.
	Count *int `yaml:"count,omitempty"`

	// Keys are the expected sorted keys of the last matching call.
	Keys []string `yaml:"keys,omitempty"`

	// Code filters errors by SyncError code.
	Code string `yaml:"code,omitempty"`

	// State is the expected engine lifecycle state.
	State string `yaml:"state,omitempty"`
}

// Assertion type constants.
const (
	AssertTree      = "tree"
	AssertStore     = "store"
	AssertCalls     = "calls"
	AssertErrors    = "errors"
	AssertLifecycle = "lifecycle"
)

var callKinds = []string{string(testutil.CallGet), string(testutil.CallSet), string(testutil.CallRemove)}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and cross references.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Instances) == 0 {
		return errors.New("instances list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return errors.New("assertions list is required and must be non-empty")
	}

	ids := make(map[string]bool, len(s.Instances))
	for i, inst := range s.Instances {
		if inst.ID == "" {
			return fmt.Errorf("instances[%d]: id is required", i)
		}
		if ids[inst.ID] {
			return fmt.Errorf("instances[%d]: duplicate id %q", i, inst.ID)
		}
		ids[inst.ID] = true
		if inst.InitialState == nil && s.InitialState == nil {
			return fmt.Errorf("instances[%d]: initial_state is required (per instance or per scenario)", i)
		}
		for _, kind := range inst.FailOnAttach {
			if !slices.Contains(callKinds, kind) {
				return fmt.Errorf("instances[%d]: unknown call kind %q", i, kind)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step, ids); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, ids); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step, ids map[string]bool) error {
	needsInstance := func() error {
		if !ids[step.Instance] {
			return fmt.Errorf("%s: unknown instance %q", step.Op, step.Instance)
		}
		return nil
	}

	switch step.Op {
	case OpSet:
		if step.Value == nil {
			return errors.New("set: value is required")
		}
		return needsInstance()
	case OpMerge:
		if len(step.Merged) == 0 {
			return errors.New("merge: merged is required")
		}
		return needsInstance()
	case OpRemote:
		if step.Origin != "" && step.Payload != "" {
			return errors.New("remote: origin and payload are mutually exclusive")
		}
		if step.Origin == "" && step.Payload == "" && len(step.Items) == 0 {
			return errors.New("remote: nothing to write")
		}
		return nil
	case OpFail:
		if !slices.Contains(callKinds, step.Call) {
			return fmt.Errorf("fail: unknown call kind %q", step.Call)
		}
		return needsInstance()
	case OpDetach:
		return needsInstance()
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func validateAssertion(a Assertion, ids map[string]bool) error {
	switch a.Type {
	case AssertStore:
		if len(a.Expect) == 0 {
			return errors.New("store: expect is required")
		}
		return nil
	case AssertTree:
		if a.Expect == nil {
			return errors.New("tree: expect is required")
		}
	case AssertCalls:
		if !slices.Contains(callKinds, a.Call) {
			return fmt.Errorf("calls: unknown call kind %q", a.Call)
		}
		if a.Count == nil && a.Keys == nil {
			return errors.New("calls: count or keys is required")
		}
	case AssertErrors:
		if a.Count == nil {
			return errors.New("errors: count is required")
		}
	case AssertLifecycle:
		if a.State == "" {
			return errors.New("lifecycle: state is required")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}

	if !ids[a.Instance] {
		return fmt.Errorf("%s: unknown instance %q", a.Type, a.Instance)
	}
	return nil
}
