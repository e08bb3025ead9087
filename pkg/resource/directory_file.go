package resource

import (
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type participantDoc struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Roles        []string `yaml:"roles"`
	Capabilities []string `yaml:"capabilities"`
	OrgGroups    []string `yaml:"orgGroups"`
}

type directoryDoc struct {
	Participants []participantDoc `yaml:"participants"`
}

// LoadDirectory parses a YAML participant registry into an in-memory
// directory. Participants without an id get a generated one.
func LoadDirectory(data []byte) (*InMemoryDirectory, error) {
	var doc directoryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse participant directory: %w", err)
	}
	directory := NewInMemoryDirectory()
	for i, p := range doc.Participants {
		if p.Name == "" {
			return nil, fmt.Errorf("participant %d has no name", i)
		}
		id := uuid.New()
		if p.ID != "" {
			var err error
			id, err = uuid.Parse(p.ID)
			if err != nil {
				return nil, fmt.Errorf("participant %s has invalid id: %w", p.Name, err)
			}
		}
		directory.Add(Participant{
			ID:           id,
			Name:         p.Name,
			Roles:        p.Roles,
			Capabilities: p.Capabilities,
			OrgGroups:    p.OrgGroups,
		})
	}
	return directory, nil
}
