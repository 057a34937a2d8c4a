// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package drift

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Probe describes one request sent to a provider. URL, header values and
// Body may reference secrets as ${name}.
type Probe struct {
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Body    string            `yaml:"body,omitempty"`
}

// ErrorProbe is a deliberately invalid request. The error response must
// carry every ExpectedErrorFields path.
type ErrorProbe struct {
	Probe               `yaml:",inline"`
	ExpectedErrorFields []string `yaml:"expected_error_fields"`
}

// SuccessProbe is an authenticated request whose response must satisfy a
// three-tier field contract. Required paths resolve from the document
// root. AtLeastOne fields must appear on at least one element of the list
// at ItemsPath (the root when empty). Optional fields are documentation
// only.
type SuccessProbe struct {
	Probe `yaml:",inline"`

	// Credentials names the secrets the probe needs. A missing one skips
	// the probe.
	Credentials []string `yaml:"credentials,omitempty"`

	ItemsPath  string   `yaml:"items_path,omitempty"`
	Required   []string `yaml:"required,omitempty"`
	Optional   []string `yaml:"optional,omitempty"`
	AtLeastOne []string `yaml:"at_least_one,omitempty"`
}

// Contract is the recorded shape of one provider's API.
type Contract struct {
	Provider string        `yaml:"provider"`
	Error    *ErrorProbe   `yaml:"error,omitempty"`
	Success  *SuccessProbe `yaml:"success,omitempty"`
}

type contractsFile struct {
	Contracts []Contract `yaml:"contracts"`
}

// LoadContracts reads and validates a contracts file.
func LoadContracts(path string) ([]Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading contracts %s: %w", path, err)
	}
	contracts, err := ParseContracts(data)
	if err != nil {
		return nil, fmt.Errorf("parsing contracts %s: %w", path, err)
	}
	return contracts, nil
}

// ParseContracts decodes contracts YAML. Provider names must be unique and
// every probe needs a URL.
func ParseContracts(data []byte) ([]Contract, error) {
	var f contractsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var errs []error
	for i := range f.Contracts {
		c := &f.Contracts[i]
		c.Provider = strings.TrimSpace(c.Provider)
		switch {
		case c.Provider == "":
			errs = append(errs, fmt.Errorf("contract %d: provider is required", i))
			continue
		case seen[strings.ToLower(c.Provider)]:
			errs = append(errs, fmt.Errorf("contract %s: duplicate provider", c.Provider))
		}
		seen[strings.ToLower(c.Provider)] = true
		if c.Error == nil && c.Success == nil {
			errs = append(errs, fmt.Errorf("contract %s: needs an error or success probe", c.Provider))
		}
		if c.Error != nil {
			if err := c.Error.normalize(); err != nil {
				errs = append(errs, fmt.Errorf("contract %s error probe: %w", c.Provider, err))
			}
		}
		if c.Success != nil {
			if err := c.Success.normalize(); err != nil {
				errs = append(errs, fmt.Errorf("contract %s success probe: %w", c.Provider, err))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return f.Contracts, nil
}

func (p *Probe) normalize() error {
	if strings.TrimSpace(p.URL) == "" {
		return errors.New("url is required")
	}
	if p.Method == "" {
		p.Method = http.MethodGet
	}
	p.Method = strings.ToUpper(p.Method)
	return nil
}
