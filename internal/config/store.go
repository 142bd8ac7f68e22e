package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrNoCredential is returned when no saved credential matches.
var ErrNoCredential = errors.New("no saved credential matches")

// Credential is one saved org login.
type Credential struct {
	Org      string `yaml:"org"`
	BaseURL  string `yaml:"base_url"`
	APIToken string `yaml:"api_token"`
}

// CredentialStore reads and writes saved credentials as a yaml list.
// Credentials are keyed by (org, base URL).
type CredentialStore struct {
	path string
}

// NewCredentialStore returns a store backed by the given file path.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Load reads all saved credentials. A missing file yields an empty list.
func (s *CredentialStore) Load() ([]Credential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var creds []Credential
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return creds, nil
}

// Save upserts a credential, matching on org and base URL.
func (s *CredentialStore) Save(cred Credential) error {
	creds, err := s.Load()
	if err != nil {
		return err
	}

	replaced := false
	for i, c := range creds {
		if c.Org == cred.Org && c.BaseURL == cred.BaseURL {
			creds[i] = cred
			replaced = true
			break
		}
	}
	if !replaced {
		creds = append(creds, cred)
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}
	// Tokens live in this file; keep it owner-readable only.
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

// Find returns the credential for an org and base URL. An empty org
// matches only when exactly one credential is saved for the base URL.
func (s *CredentialStore) Find(org, baseURL string) (*Credential, error) {
	creds, err := s.Load()
	if err != nil {
		return nil, err
	}

	var matches []Credential
	for _, c := range creds {
		if c.BaseURL != baseURL {
			continue
		}
		if org != "" && c.Org != org {
			continue
		}
		matches = append(matches, c)
	}

	switch {
	case len(matches) == 1:
		return &matches[0], nil
	case len(matches) > 1:
		return nil, fmt.Errorf("%w: %d credentials match, specify an org", ErrNoCredential, len(matches))
	default:
		return nil, ErrNoCredential
	}
}
