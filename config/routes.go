package config

import (
	"fmt"
	"os"

	"github.com/upb/llm-proxy/services/providers"
	"github.com/upb/llm-proxy/services/routing"
	"github.com/upb/llm-proxy/utils"
	"gopkg.in/yaml.v3"
)

// RoutesFile is the on-disk shape of the routing configuration: the
// provider credentials and the category-to-candidates routing table.
// API keys may reference environment variables as ${VAR}.
type RoutesFile struct {
	Providers []providers.Credential    `yaml:"providers" validate:"required,min=1,dive"`
	Routes    map[string][]routing.Rule `yaml:"routes" validate:"required"`
}

// LoadRoutes reads and validates the routing configuration file.
func LoadRoutes(path string) (*RoutesFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading routes file %s: %w", path, err)
	}

	// Expand ${VAR} references so API keys stay out of the file
	expanded := os.ExpandEnv(string(raw))

	var rf RoutesFile
	if err := yaml.Unmarshal([]byte(expanded), &rf); err != nil {
		return nil, fmt.Errorf("parsing routes file %s: %w", path, err)
	}

	if err := utils.ValidateStruct(&rf); err != nil {
		return nil, fmt.Errorf("invalid routes file %s: %w", path, err)
	}

	return &rf, nil
}

// Table converts the file's route section into a routing table,
// enforcing the table's structural invariants.
func (rf *RoutesFile) Table() (routing.Table, error) {
	table := make(routing.Table, len(rf.Routes))
	for name, rules := range rf.Routes {
		table[routing.Category(name)] = rules
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}
