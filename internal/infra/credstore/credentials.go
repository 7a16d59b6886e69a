package credstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Credentials is the on-disk OAuth credential document written by the
// Gemini CLI. Unknown fields are preserved across rewrites.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiryDate   int64  `json:"expiry_date,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`

	extra map[string]json.RawMessage
}

// Expiry converts the millisecond epoch expiry to a time.
func (c Credentials) Expiry() time.Time {
	if c.ExpiryDate <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.ExpiryDate)
}

// SetExpiry stores t as a millisecond epoch.
func (c *Credentials) SetExpiry(t time.Time) {
	if t.IsZero() {
		c.ExpiryDate = 0
		return
	}
	c.ExpiryDate = t.UnixMilli()
}

var knownCredentialFields = []string{
	"access_token", "refresh_token", "token_type", "expiry_date",
	"scope", "id_token", "client_id", "client_secret",
}

func (c *Credentials) UnmarshalJSON(data []byte) error {
	type plain Credentials
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, key := range knownCredentialFields {
		delete(raw, key)
	}
	*c = Credentials(decoded)
	if len(raw) > 0 {
		c.extra = raw
	}
	return nil
}

func (c Credentials) MarshalJSON() ([]byte, error) {
	type plain Credentials
	base, err := json.Marshal(plain(c))
	if err != nil {
		return nil, err
	}
	if len(c.extra) == 0 {
		return base, nil
	}
	merged := make(map[string]json.RawMessage, len(c.extra)+len(knownCredentialFields))
	for k, v := range c.extra {
		merged[k] = v
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(base, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Store reads and writes one credential file.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the credential file. A file without a refresh token is
// rejected since it cannot produce access tokens.
func (s *Store) Load() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var creds Credentials
	if err := ReadJSONFile(s.path, &creds); err != nil {
		return Credentials{}, err
	}
	if strings.TrimSpace(creds.RefreshToken) == "" && strings.TrimSpace(creds.AccessToken) == "" {
		return Credentials{}, fmt.Errorf("credential file %s has no tokens", s.path)
	}
	return creds, nil
}

// Save atomically rewrites the credential file with owner-only permissions.
func (s *Store) Save(creds Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return WriteFileAtomic(s.path, append(data, '\n'), 0o600)
}
