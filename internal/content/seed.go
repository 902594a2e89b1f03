// Package content loads on-disk seed content applied at server startup.
package content

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedRoom is a default room created at startup if absent. IDs are
// fixed in the seed file so repeated startups are idempotent.
type SeedRoom struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

type seedFile struct {
	Rooms []SeedRoom `yaml:"rooms"`
}

// LoadSeedRooms reads and validates the seed room definitions at path.
//
// Precondition: path must reference a YAML file.
// Postcondition: Returns the seed rooms, or an error naming the first
// invalid entry.
func LoadSeedRooms(path string) ([]SeedRoom, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}

	for i, r := range f.Rooms {
		if r.ID == "" {
			return nil, fmt.Errorf("seed room %d: id must not be empty", i)
		}
		if r.Name == "" {
			return nil, fmt.Errorf("seed room %q: name must not be empty", r.ID)
		}
		if r.Kind != "chat" && r.Kind != "game" {
			return nil, fmt.Errorf("seed room %q: kind must be chat or game, got %q", r.ID, r.Kind)
		}
	}
	return f.Rooms, nil
}
