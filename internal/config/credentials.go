package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/righttechsoft/tgfeed/internal/models"
)

var structValidator = validator.New()

// LoadCredentials reads the upstream account list from the YAML file named
// by Upstream.CredentialsFile and validates each entry. At most one entry
// may be marked primary; if none is, the first entry becomes primary.
func LoadCredentials(path string) ([]models.Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	var creds []models.Credential
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}

	primaries := 0
	for i := range creds {
		if err := structValidator.Struct(&creds[i]); err != nil {
			return nil, fmt.Errorf("credential %d invalid: %w", creds[i].ID, err)
		}
		if creds[i].Primary {
			primaries++
		}
	}

	switch {
	case len(creds) == 0:
		return nil, fmt.Errorf("credentials file %s defines no accounts", path)
	case primaries == 0:
		creds[0].Primary = true
	case primaries > 1:
		return nil, fmt.Errorf("credentials file %s marks %d accounts primary, want exactly 1", path, primaries)
	}

	return creds, nil
}
