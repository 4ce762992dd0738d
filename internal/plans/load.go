package plans

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"control_room/internal/domain"
)

type planFile struct {
	Plans []domain.PlanDefinition `toml:"plans" yaml:"plans"`
}

// LoadFile reads plan definitions from a .toml, .yaml or .yml file.
func LoadFile(path string) ([]domain.PlanDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file %s: %w", path, err)
	}
	var file planFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &file); err != nil {
			return nil, fmt.Errorf("decode toml plan file %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("decode yaml plan file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported plan file extension %q", ext)
	}
	if len(file.Plans) == 0 {
		return nil, fmt.Errorf("%w: %s defines no plans", ErrInvalidPlan, path)
	}
	out := make([]domain.PlanDefinition, 0, len(file.Plans))
	for _, def := range file.Plans {
		normalized, err := Normalize(def)
		if err != nil {
			return nil, fmt.Errorf("plan file %s: %w", path, err)
		}
		out = append(out, normalized)
	}
	return out, nil
}
