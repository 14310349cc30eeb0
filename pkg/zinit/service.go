package zinit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigDir is where zinit reads service definitions from
const DefaultConfigDir = "/etc/zinit"

// LogType selects where zinit sends a service's output
type LogType string

const (
	RingLogType   LogType = "ring"
	StdoutLogType LogType = "stdout"
	NullLogType   LogType = "null"
)

// InitService is a zinit service definition (<dir>/<name>.yaml)
type InitService struct {
	Exec    string            `yaml:"exec" json:"exec"`
	Test    string            `yaml:"test,omitempty" json:"test,omitempty"`
	Oneshot bool              `yaml:"oneshot,omitempty" json:"oneshot,omitempty"`
	After   []string          `yaml:"after,omitempty" json:"after,omitempty"`
	Log     LogType           `yaml:"log,omitempty" json:"log,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Validate checks the definition can be loaded by zinit
func (s InitService) Validate() error {
	if strings.TrimSpace(s.Exec) == "" {
		return errors.New("service exec command is required")
	}
	switch s.Log {
	case "", RingLogType, StdoutLogType, NullLogType:
	default:
		return fmt.Errorf("invalid log type %q (ring|stdout|null)", s.Log)
	}
	return nil
}

func servicePath(dir, name string) (string, error) {
	if dir == "" {
		dir = DefaultConfigDir
	}
	if name == "" || strings.ContainsRune(name, filepath.Separator) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid service name %q", name)
	}
	return filepath.Join(dir, name+".yaml"), nil
}

// AddService writes the service definition to <dir>/<name>.yaml.
// zinit only picks it up once the service is monitored.
func AddService(dir, name string, service InitService) error {
	if err := service.Validate(); err != nil {
		return err
	}

	path, err := servicePath(dir, name)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(service)
	if err != nil {
		return fmt.Errorf("failed to encode service %s: %w", name, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write service %s: %w", path, err)
	}

	return nil
}

// ReadService loads <dir>/<name>.yaml
func ReadService(dir, name string) (InitService, error) {
	var service InitService

	path, err := servicePath(dir, name)
	if err != nil {
		return service, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return service, err
	}

	if err := yaml.Unmarshal(data, &service); err != nil {
		return service, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return service, nil
}

// RemoveService deletes <dir>/<name>.yaml. A missing file is not an error.
func RemoveService(dir, name string) error {
	path, err := servicePath(dir, name)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

// ListServices returns the names of all service definitions in dir
func ListServices(dir string) ([]string, error) {
	if dir == "" {
		dir = DefaultConfigDir
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".yaml"))
	}

	sort.Strings(names)
	return names, nil
}
