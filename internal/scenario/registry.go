package scenario

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned for an unknown scenario or suite name.
	ErrNotFound = errors.New("scenario not found")
	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("scenario already registered")
	// ErrNoDefault is returned by Default before SetDefault was called.
	ErrNoDefault = errors.New("no default scenario")
)

// Registry manages scenario and suite registration and lookup.
type Registry struct {
	mu          sync.RWMutex
	scenarios   map[string]Scenario
	suites      map[string]Suite
	defaultName string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		scenarios: make(map[string]Scenario),
		suites:    make(map[string]Suite),
	}
}

// Register adds a scenario. Returns an error if the name is empty, fn is
// nil or the name already exists.
func (r *Registry) Register(name, description string, fn Func) error {
	if name == "" {
		return fmt.Errorf("scenario name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("scenario %q: nil function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scenarios[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.scenarios[name] = Scenario{Name: name, Description: description, Fn: fn}
	return nil
}

// RegisterScenario adds a fully populated scenario, including its own
// recommended options.
func (r *Registry) RegisterScenario(s Scenario) error {
	if err := r.Register(s.Name, s.Description, s.Fn); err != nil {
		return err
	}
	if s.Options != nil {
		r.mu.Lock()
		stored := r.scenarios[s.Name]
		opts := *s.Options
		stored.Options = &opts
		r.scenarios[s.Name] = stored
		r.mu.Unlock()
	}
	return nil
}

// MustRegister registers a scenario and panics on error.
func (r *Registry) MustRegister(name, description string, fn Func) {
	if err := r.Register(name, description, fn); err != nil {
		panic(err)
	}
}

// RegisterSuite adds a suite. Its default scenario must already exist.
func (r *Registry) RegisterSuite(s Suite) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Name == "" {
		return fmt.Errorf("suite name cannot be empty")
	}
	if _, exists := r.suites[s.Name]; exists {
		return fmt.Errorf("%w: suite %s", ErrDuplicate, s.Name)
	}
	if _, ok := r.scenarios[s.Default]; !ok {
		return fmt.Errorf("suite %s: %w: %s", s.Name, ErrNotFound, s.Default)
	}
	r.suites[s.Name] = s
	return nil
}

// SetDefault marks name as the default scenario.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scenarios[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	r.defaultName = name
	return nil
}

// Default returns the default scenario.
func (r *Registry) Default() (Scenario, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultName == "" {
		return Scenario{}, ErrNoDefault
	}
	return r.scenarios[r.defaultName], nil
}

// Get retrieves a scenario by full name.
func (r *Registry) Get(name string) (Scenario, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scenarios[name]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s, nil
}

// Suite retrieves a suite by name.
func (r *Registry) Suite(name string) (Suite, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.suites[name]
	if !ok {
		return Suite{}, fmt.Errorf("%w: suite %s", ErrNotFound, name)
	}
	return s, nil
}

// Resolve maps a CLI selector to a scenario and its suite. The selector is
// a suite name ("task"), a full scenario name ("task.high-load") or empty
// for the default. The suite is nil when the scenario belongs to none.
func (r *Registry) Resolve(selector string) (Scenario, *Suite, error) {
	if selector == "" {
		s, err := r.Default()
		if err != nil {
			return Scenario{}, nil, err
		}
		return s, r.suiteOf(s.Name), nil
	}
	if suite, err := r.Suite(selector); err == nil {
		s, err := r.Get(suite.Default)
		if err != nil {
			return Scenario{}, nil, err
		}
		return s, &suite, nil
	}
	s, err := r.Get(selector)
	if err != nil {
		return Scenario{}, nil, err
	}
	return s, r.suiteOf(s.Name), nil
}

func (r *Registry) suiteOf(name string) *Suite {
	prefix, _, ok := strings.Cut(name, ".")
	if !ok {
		return nil
	}
	suite, err := r.Suite(prefix)
	if err != nil {
		return nil
	}
	return &suite
}

// List returns all scenarios sorted by name.
func (r *Registry) List() []Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Scenario, 0, len(r.scenarios))
	for _, s := range r.scenarios {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Suites returns all suites sorted by name.
func (r *Registry) Suites() []Suite {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Suite, 0, len(r.suites))
	for _, s := range r.suites {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// RecommendedOptions returns the options to apply for s: its own, else its
// suite's, else the zero Options.
func RecommendedOptions(s Scenario, suite *Suite) Options {
	if s.Options != nil {
		return *s.Options
	}
	if suite != nil {
		return suite.Options
	}
	return Options{}
}

// DefaultName returns the default scenario name, or "".
func (r *Registry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}
