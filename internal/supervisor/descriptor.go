package supervisor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/browserbox/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/browserbox/internal/shared/errs"
	"github.com/GriffinCanCode/browserbox/internal/shared/utils"
)

// Kind distinguishes external processes from in-process services.
type Kind string

const (
	KindProcess Kind = "process"
	KindService Kind = "service"
)

// RestartMode selects when an exited component is restarted.
type RestartMode string

const (
	RestartAlways    RestartMode = "always"
	RestartOnFailure RestartMode = "on-failure"
	RestartNever     RestartMode = "never"
)

// Output targets for stdout and stderr. Any other value is a file path opened
// for appending.
const (
	OutputInherit = "inherit"
	OutputDiscard = "discard"
	OutputLog     = "log"
)

// Duration decodes "1.5s"-style strings from YAML, TOML and JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// RestartPolicy controls automatic restarts. Zero fields take the
// supervisor-wide defaults.
type RestartPolicy struct {
	Policy       RestartMode `yaml:"policy,omitempty" toml:"policy,omitempty" json:"policy,omitempty"`
	MaxRetries   *int        `yaml:"max_retries,omitempty" toml:"max_retries,omitempty" json:"max_retries,omitempty"`
	InitialDelay Duration    `yaml:"initial_delay,omitempty" toml:"initial_delay,omitempty" json:"initial_delay,omitempty"`
	Multiplier   float64     `yaml:"multiplier,omitempty" toml:"multiplier,omitempty" json:"multiplier,omitempty"`
	MaxDelay     Duration    `yaml:"max_delay,omitempty" toml:"max_delay,omitempty" json:"max_delay,omitempty"`
	// StableAfter is how long an instance must stay running before its
	// failure count is forgotten. Zero means MaxDelay.
	StableAfter Duration `yaml:"stable_after,omitempty" toml:"stable_after,omitempty" json:"stable_after,omitempty"`
}

// Descriptor declares one supervised component.
type Descriptor struct {
	Name        string            `yaml:"name" toml:"name" json:"name"`
	Command     string            `yaml:"command,omitempty" toml:"command,omitempty" json:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty" toml:"args,omitempty" json:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty" toml:"env,omitempty" json:"env,omitempty"`
	Dir         string            `yaml:"dir,omitempty" toml:"dir,omitempty" json:"dir,omitempty"`
	Service     string            `yaml:"service,omitempty" toml:"service,omitempty" json:"service,omitempty"`
	Autostart   *bool             `yaml:"autostart,omitempty" toml:"autostart,omitempty" json:"autostart,omitempty"`
	Autorestart RestartPolicy     `yaml:"autorestart,omitempty" toml:"autorestart,omitempty" json:"autorestart,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty" toml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Stdout      string            `yaml:"stdout,omitempty" toml:"stdout,omitempty" json:"stdout,omitempty"`
	Stderr      string            `yaml:"stderr,omitempty" toml:"stderr,omitempty" json:"stderr,omitempty"`
	Prepare     string            `yaml:"prepare,omitempty" toml:"prepare,omitempty" json:"prepare,omitempty"`
	Ready       Probe             `yaml:"ready,omitempty" toml:"ready,omitempty" json:"ready,omitempty"`
	Health      Probe             `yaml:"health,omitempty" toml:"health,omitempty" json:"health,omitempty"`
}

// Kind reports whether the descriptor launches a process or a service.
func (d Descriptor) Kind() Kind {
	if d.Service != "" {
		return KindService
	}
	return KindProcess
}

// AutostartEnabled defaults to true.
func (d Descriptor) AutostartEnabled() bool {
	return d.Autostart == nil || *d.Autostart
}

// Backoff returns the restart delay schedule.
func (d Descriptor) Backoff() resilience.Backoff {
	return resilience.Backoff{
		Initial:    d.Autorestart.InitialDelay.Std(),
		Multiplier: d.Autorestart.Multiplier,
		Max:        d.Autorestart.MaxDelay.Std(),
	}
}

// MaxRetries returns the restart budget per recovery epoch.
func (d Descriptor) MaxRetries() int {
	if d.Autorestart.MaxRetries == nil {
		return 0
	}
	return *d.Autorestart.MaxRetries
}

// StableAfter returns the uptime after which a crash starts a new budget.
func (d Descriptor) StableAfter() time.Duration {
	if d.Autorestart.StableAfter > 0 {
		return d.Autorestart.StableAfter.Std()
	}
	return d.Autorestart.MaxDelay.Std()
}

// shouldRestart applies the restart mode to an exit.
func (d Descriptor) shouldRestart(exitErr error) bool {
	switch d.Autorestart.Policy {
	case RestartNever:
		return false
	case RestartOnFailure:
		return exitErr != nil
	default:
		return true
	}
}

// Defaults fill fields a descriptor leaves empty.
type Defaults struct {
	Restart       RestartPolicy
	ReadyTimeout  time.Duration
	HealthTimeout time.Duration
}

// DefaultsFrom derives descriptor defaults from configuration.
func DefaultsFrom(cfg config.SupervisorConfig) Defaults {
	retries := cfg.MaxRetries
	return Defaults{
		Restart: RestartPolicy{
			Policy:       RestartAlways,
			MaxRetries:   &retries,
			InitialDelay: Duration(cfg.RestartInitial),
			Multiplier:   cfg.RestartMultiplier,
			MaxDelay:     Duration(cfg.RestartMaxDelay),
			StableAfter:  Duration(cfg.RestartStableAfter),
		},
		ReadyTimeout:  cfg.ReadyTimeout,
		HealthTimeout: 2 * time.Second,
	}
}

func (d Descriptor) withDefaults(def Defaults) Descriptor {
	r := &d.Autorestart
	if r.Policy == "" {
		r.Policy = def.Restart.Policy
	}
	if r.MaxRetries == nil && def.Restart.MaxRetries != nil {
		n := *def.Restart.MaxRetries
		r.MaxRetries = &n
	}
	if r.InitialDelay == 0 {
		r.InitialDelay = def.Restart.InitialDelay
	}
	if r.Multiplier == 0 {
		r.Multiplier = def.Restart.Multiplier
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = def.Restart.MaxDelay
	}
	if r.StableAfter == 0 {
		r.StableAfter = def.Restart.StableAfter
	}
	if d.Ready.Kind == "none" {
		d.Ready.Kind = ProbeNone
	}
	if d.Health.Kind == "none" {
		d.Health.Kind = ProbeNone
	}
	if d.Ready.Enabled() && d.Ready.Timeout == 0 {
		d.Ready.Timeout = Duration(def.ReadyTimeout)
	}
	if d.Health.Enabled() && d.Health.Timeout == 0 {
		d.Health.Timeout = Duration(def.HealthTimeout)
	}
	if d.Stdout == "" {
		d.Stdout = OutputLog
	}
	if d.Stderr == "" {
		d.Stderr = OutputLog
	}
	return d
}

func (d Descriptor) expand(vars Variables) (Descriptor, error) {
	var err error
	expand := func(s string) string {
		if err != nil || s == "" {
			return s
		}
		var out string
		out, err = vars.Expand(s)
		return out
	}

	d.Command = expand(d.Command)
	d.Dir = expand(d.Dir)
	d.Stdout = expand(d.Stdout)
	d.Stderr = expand(d.Stderr)
	d.Ready.Address = expand(d.Ready.Address)
	d.Health.Address = expand(d.Health.Address)
	if len(d.Env) > 0 {
		env := make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			env[k] = expand(v)
		}
		d.Env = env
	}
	if err != nil {
		return d, err
	}

	d.Args, err = vars.ExpandArgs(d.Args)
	return d, err
}

func (d Descriptor) validate() error {
	var problems []error
	if err := utils.ValidateName(d.Name); err != nil {
		problems = append(problems, err)
	}
	if (d.Command == "") == (d.Service == "") {
		problems = append(problems, errors.New("exactly one of command or service must be set"))
	}
	switch d.Autorestart.Policy {
	case "", RestartAlways, RestartOnFailure, RestartNever:
	default:
		problems = append(problems, fmt.Errorf("unknown restart policy %q", d.Autorestart.Policy))
	}
	if d.Autorestart.MaxRetries != nil && *d.Autorestart.MaxRetries < 0 {
		problems = append(problems, errors.New("max_retries must be >= 0"))
	}
	for _, p := range []Probe{d.Ready, d.Health} {
		if err := p.validate(); err != nil {
			problems = append(problems, err)
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: component %q: %w", errs.ErrInvalidDescriptor, d.Name, errors.Join(problems...))
}

// Table is a validated, topologically ordered set of descriptors. It is
// immutable once built.
type Table struct {
	ordered []Descriptor
	index   map[string]int
}

// NewTable validates descriptors and orders them so every component follows
// its predecessors. Ties keep declaration order.
func NewTable(descs []Descriptor) (*Table, error) {
	var problems []error
	declared := make(map[string]int, len(descs))
	for i, d := range descs {
		if err := d.validate(); err != nil {
			problems = append(problems, err)
		}
		if _, dup := declared[d.Name]; dup {
			problems = append(problems, fmt.Errorf("%w: duplicate component %q", errs.ErrInvalidDescriptor, d.Name))
			continue
		}
		declared[d.Name] = i
	}
	for _, d := range descs {
		for _, dep := range d.DependsOn {
			if _, ok := declared[dep]; !ok {
				problems = append(problems, fmt.Errorf("%w: component %q depends on unknown %q", errs.ErrInvalidDescriptor, d.Name, dep))
			}
			if dep == d.Name {
				problems = append(problems, fmt.Errorf("%w: component %q depends on itself", errs.ErrInvalidDescriptor, d.Name))
			}
		}
	}
	if len(problems) > 0 {
		return nil, errors.Join(problems...)
	}

	order, err := topoSort(descs, declared)
	if err != nil {
		return nil, err
	}

	t := &Table{index: make(map[string]int, len(descs))}
	for pos, i := range order {
		t.ordered = append(t.ordered, descs[i])
		t.index[descs[i].Name] = pos
	}
	return t, nil
}

// topoSort is Kahn's algorithm, always taking the earliest declared ready node.
func topoSort(descs []Descriptor, declared map[string]int) ([]int, error) {
	indegree := make([]int, len(descs))
	dependents := make([][]int, len(descs))
	for i, d := range descs {
		seen := map[string]bool{}
		for _, dep := range d.DependsOn {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			indegree[i]++
			dependents[declared[dep]] = append(dependents[declared[dep]], i)
		}
	}

	done := make([]bool, len(descs))
	order := make([]int, 0, len(descs))
	for len(order) < len(descs) {
		next := -1
		for i := range descs {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var cyclic []string
			for i, d := range descs {
				if !done[i] {
					cyclic = append(cyclic, d.Name)
				}
			}
			return nil, fmt.Errorf("%w: dependency cycle among %s", errs.ErrInvalidDescriptor, strings.Join(cyclic, ", "))
		}
		done[next] = true
		order = append(order, next)
		for _, dep := range dependents[next] {
			indegree[dep]--
		}
	}
	return order, nil
}

// Ordered returns the descriptors in start order.
func (t *Table) Ordered() []Descriptor {
	out := make([]Descriptor, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// Names returns component names in start order.
func (t *Table) Names() []string {
	names := make([]string, len(t.ordered))
	for i, d := range t.ordered {
		names[i] = d.Name
	}
	return names
}

// Get looks up a descriptor by name.
func (t *Table) Get(name string) (Descriptor, bool) {
	i, ok := t.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return t.ordered[i], true
}

// Position returns the start-order index of name, or -1.
func (t *Table) Position(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// Len returns the number of components.
func (t *Table) Len() int { return len(t.ordered) }
