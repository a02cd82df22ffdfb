package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// TokenKey is the fixed key the access token lives under in the local
// credential file, mirroring the key the web client uses in its storage.
const TokenKey = "ficlance_access_token"

// Store reads and writes the local credential file. The file is a flat JSON
// object so other tools can keep unrelated keys alongside the token.
type Store struct {
	path string
}

// NewStore returns a Store backed by path. An empty path resolves to
// .ficlance/credentials.json under the user home directory.
func NewStore(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home dir for token store: %w", err)
		}
		path = filepath.Join(home, ".ficlance", "credentials.json")
	}
	return &Store{path: path}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Token reads the access token from the credential file. It is read at
// connection time, not cached, so an externally refreshed token is picked
// up by the next connect.
func (s *Store) Token() (string, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("credential file not found: %s", s.path)
		}
		return "", err
	}
	var kv map[string]string
	if err := json.Unmarshal(b, &kv); err != nil {
		return "", fmt.Errorf("invalid credential file %s: %w", s.path, err)
	}
	tok := kv[TokenKey]
	if tok == "" {
		return "", fmt.Errorf("no %s in %s", TokenKey, s.path)
	}
	return tok, nil
}

// SetToken writes the access token, preserving any other keys in the file.
func (s *Store) SetToken(token string) error {
	kv := map[string]string{}
	if b, err := os.ReadFile(s.path); err == nil {
		_ = json.Unmarshal(b, &kv)
	}
	kv[TokenKey] = token
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(kv, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".cred-*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		_ = os.Remove(name)
		return err
	}
	tmp.Close()
	if err := os.Rename(name, s.path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Chmod(s.path, 0o600)
}
