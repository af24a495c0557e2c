package src

import (
	"fmt"
	"os"

	"parley/src/model"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment variable read by LoadConfig.
const EnvPrefix = "PARLEY"

type Config struct {
	LogConfig     model.LogConfig     `envconfig:"LOG"`
	LLMConfig     model.LLMConfig     `envconfig:"LLM"`
	StoreConfig   model.StoreConfig   `envconfig:"STORE"`
	SessionConfig model.SessionConfig `envconfig:"SESSION"`
}

// LoadConfig reads PARLEY_* environment variables, e.g. PARLEY_LLM_MODEL or PARLEY_STORE_BACKEND.
func LoadConfig() (*Config, error) {
	var config Config
	err := envconfig.Process(EnvPrefix, &config)
	if err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %w", err)
	}

	return &config, nil
}

// Roster is the YAML seed file of characters and personas imported on first run.
type Roster struct {
	Characters []model.Character `yaml:"characters"`
	Personas   []model.Persona   `yaml:"personas"`
}

// LoadRoster loads the roster file. A missing file yields an empty roster.
func LoadRoster(filepath string) (*Roster, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Roster{}, nil
		}
		return nil, fmt.Errorf("error reading roster file: %w", err)
	}

	var roster Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("error parsing YAML: %w", err)
	}

	return &roster, nil
}
