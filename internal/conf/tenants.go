package conf

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
)

// TenantsFile is the tenants.yaml document
type TenantsFile struct {
	Tenants []*domain.BotConfig `yaml:"tenants"`
}

// LoadTenants reads and validates tenant seeds. An empty path yields none.
func LoadTenants(path string) ([]*domain.BotConfig, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenants %s: %w", path, err)
	}

	var file TenantsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Tenants))
	for i, t := range file.Tenants {
		if t == nil {
			return nil, fmt.Errorf("tenant #%d is empty", i+1)
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("tenant %q: %w", t.TenantID, err)
		}
		if seen[t.TenantID] {
			return nil, fmt.Errorf("tenant %q is defined twice", t.TenantID)
		}
		seen[t.TenantID] = true
	}
	return file.Tenants, nil
}
