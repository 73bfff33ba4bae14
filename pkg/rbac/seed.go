package rbac

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tenantadmin/pkg/observability"
)

// Seed is the declarative role registry applied at install time
type Seed struct {
	Permissions []SeedPermission `yaml:"permissions"`
	Roles       []SeedRole       `yaml:"roles"`
}

// SeedPermission is a permission entry of a Seed
type SeedPermission struct {
	Name  string `yaml:"name"`
	Guard string `yaml:"guard"`
	Label string `yaml:"label"`
}

// SeedRole is a role entry of a Seed. Permissions replace whatever the role
// held before.
type SeedRole struct {
	Name        string   `yaml:"name"`
	Guard       string   `yaml:"guard"`
	Label       string   `yaml:"label"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// SeedResult counts what ApplySeed wrote
type SeedResult struct {
	Permissions int `json:"permissions"`
	Roles       int `json:"roles"`
}

// LoadSeed decodes a YAML seed
func LoadSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		if err == io.EOF {
			return &seed, nil
		}
		return nil, fmt.Errorf("failed to decode seed: %w", err)
	}

	seen := map[string]bool{}
	for i, role := range seed.Roles {
		if role.Name == "" {
			return nil, fmt.Errorf("role %d has no name", i)
		}
		if seen[role.Name] {
			return nil, fmt.Errorf("role %s is declared twice", role.Name)
		}
		seen[role.Name] = true
	}
	return &seed, nil
}

// LoadSeedFile reads and decodes the seed at path
func LoadSeedFile(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed: %w", err)
	}
	defer f.Close()
	return LoadSeed(f)
}

// ApplySeed upserts every permission and then every role of seed. Applying
// the same seed again leaves the registry unchanged.
func ApplySeed(ctx context.Context, store *Store, seed *Seed, logger *observability.Logger) (*SeedResult, error) {
	result := &SeedResult{}

	for _, p := range seed.Permissions {
		if _, err := store.UpsertPermission(ctx, CreatePermissionRequest{Name: p.Name, GuardName: p.Guard, Label: p.Label}); err != nil {
			return result, fmt.Errorf("permission %s: %w", p.Name, err)
		}
		result.Permissions++
	}

	for _, r := range seed.Roles {
		role, err := store.UpsertRole(ctx, CreateRoleRequest{
			Name:        r.Name,
			GuardName:   r.Guard,
			Label:       r.Label,
			Description: r.Description,
			Permissions: r.Permissions,
		})
		if err != nil {
			return result, fmt.Errorf("role %s: %w", r.Name, err)
		}
		result.Roles++
		if logger != nil {
			logger.WithField("role", role.Name).Debugf("Seeded role with %d permissions", len(role.Permissions))
		}
	}

	return result, nil
}
