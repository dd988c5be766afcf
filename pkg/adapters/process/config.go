package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// StageCommand is the external job run for one pipeline stage.
type StageCommand struct {
	Stage       string            `yaml:"stage" json:"stage" mapstructure:"stage"`
	Command     string            `yaml:"command" json:"command" mapstructure:"command"`
	Args        []string          `yaml:"args" json:"args" mapstructure:"args"`
	Environment map[string]string `yaml:"env" json:"env" mapstructure:"env"`
	Description string            `yaml:"description" json:"description" mapstructure:"description"`
}

// ConfigFile represents the structure of a stage jobs file.
type ConfigFile struct {
	Jobs []StageCommand `yaml:"jobs" json:"jobs"`
}

// LoadJobs reads a jobs file (YAML or JSON) and returns the commands keyed by stage.
// A missing file yields no jobs.
func LoadJobs(path string) (map[string]StageCommand, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]StageCommand{}, nil
		}
		return nil, fmt.Errorf("failed to read jobs config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	jobs := make(map[string]StageCommand)
	for _, job := range cfg.Jobs {
		if job.Stage == "" {
			continue
		}
		jobs[job.Stage] = job
	}
	return jobs, nil
}
