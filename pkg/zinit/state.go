package zinit

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// State is a zinit service state keyword
type State string

const (
	StateUnknown State = "unknown"
	StateBlocked State = "blocked"
	StateSpawned State = "spawned"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateError   State = "error"
	StateFailure State = "failure"
)

// Target is the state zinit is driving a service towards
type Target string

const (
	TargetUp   Target = "up"
	TargetDown Target = "down"
)

// ServiceState is a State plus the reason zinit reports with it,
// e.g. `Error(Exited(Pid(1592), 1))`.
type ServiceState struct {
	State  State  `json:"state" yaml:"state"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// ParseServiceState parses the textual form zinit prints for a state
func ParseServiceState(s string) ServiceState {
	s = strings.TrimSpace(s)
	name, reason := s, ""
	if i := strings.IndexByte(s, '('); i > 0 && strings.HasSuffix(s, ")") {
		name = s[:i]
		reason = s[i+1 : len(s)-1]
	}

	state := State(strings.ToLower(strings.TrimSpace(name)))
	switch state {
	case StateBlocked, StateSpawned, StateRunning, StateSuccess, StateError, StateFailure:
	default:
		state = StateUnknown
	}

	return ServiceState{State: state, Reason: reason}
}

// Is reports whether the service is in the given state
func (s ServiceState) Is(state State) bool {
	return s.State == state
}

// Exited reports whether the service process is no longer running
func (s ServiceState) Exited() bool {
	return s.State == StateSuccess || s.State == StateError || s.State == StateFailure
}

func (s ServiceState) String() string {
	if s.Reason == "" {
		return string(s.State)
	}
	return fmt.Sprintf("%s(%s)", s.State, s.Reason)
}

// UnmarshalYAML accepts the scalar form zinit prints
func (s *ServiceState) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected service state scalar", value.Line)
	}
	*s = ParseServiceState(value.Value)
	return nil
}

// ServiceStatus is the parsed answer to `status <name>`
type ServiceStatus struct {
	Name   string                  `json:"name"`
	Pid    int                     `json:"pid"`
	State  ServiceState            `json:"state"`
	Target Target                  `json:"target"`
	After  map[string]ServiceState `json:"after,omitempty"`
}

// dependencies decodes `after`, which zinit prints either as a mapping or
// as a list of single-key mappings.
type dependencies map[string]ServiceState

func (d *dependencies) UnmarshalYAML(value *yaml.Node) error {
	out := dependencies{}
	switch value.Kind {
	case yaml.MappingNode:
		var m map[string]ServiceState
		if err := value.Decode(&m); err != nil {
			return err
		}
		for k, v := range m {
			out[k] = v
		}
	case yaml.SequenceNode:
		for _, item := range value.Content {
			var m map[string]ServiceState
			if err := item.Decode(&m); err != nil {
				return err
			}
			for k, v := range m {
				out[k] = v
			}
		}
	case yaml.ScalarNode:
		if value.Value != "" && value.Value != "~" && value.Value != "null" {
			return fmt.Errorf("line %d: unexpected dependency value %q", value.Line, value.Value)
		}
	default:
		return fmt.Errorf("line %d: unexpected dependency node", value.Line)
	}
	*d = out
	return nil
}

func parseStatus(s string) (ServiceStatus, error) {
	var raw struct {
		Name   string       `yaml:"name"`
		Pid    int          `yaml:"pid"`
		State  ServiceState `yaml:"state"`
		Target string       `yaml:"target"`
		After  dependencies `yaml:"after"`
	}

	if err := yaml.Unmarshal([]byte(s), &raw); err != nil {
		return ServiceStatus{}, fmt.Errorf("failed to parse service status: %w", err)
	}

	status := ServiceStatus{
		Name:   raw.Name,
		Pid:    raw.Pid,
		State:  raw.State,
		Target: Target(strings.ToLower(raw.Target)),
	}
	if len(raw.After) > 0 {
		status.After = map[string]ServiceState(raw.After)
	}

	return status, nil
}

func parseList(s string) (map[string]ServiceState, error) {
	services := make(map[string]ServiceState)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		name, state, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("invalid service list line: %q", line)
		}

		services[strings.TrimSpace(name)] = ParseServiceState(state)
	}

	return services, nil
}

// SortedNames returns the service names of a List result in lexical order
func SortedNames(services map[string]ServiceState) []string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
