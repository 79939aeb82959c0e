// Package prefs implements the persisted preferences file backing the secret
// store: a flat string-to-string map serialized as JSON and replaced
// atomically on every save (write to a temp file, then rename). The unsealed
// copy of a secret must remain the source of truth until the sealed copy is
// durably written, so partial writes are never visible.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Keys mirroring the original installation's preference names. Values are
// opaque serialized secrets; this package never interprets them.
const (
	KeyAttachmentUnencryptedSecret = "attachment_unencrypted_secret"
	KeyAttachmentEncryptedSecret   = "attachment_encrypted_secret"
	KeyDatabaseUnencryptedSecret   = "database_unencrypted_secret"
	KeyDatabaseEncryptedSecret     = "database_encrypted_secret"
	KeyLogUnencryptedSecret        = "log_unencrypted_secret"
	KeyLogEncryptedSecret          = "log_encrypted_secret"
	KeySealerSalt                  = "sealer_salt"
)

// Prefs is a persisted string key/value store. Safe for concurrent use.
type Prefs struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// Open loads the preferences file at path, creating an empty store if the
// file does not exist yet.
func Open(path string) (*Prefs, error) {
	p := &Prefs{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("failed to read prefs file: %w", err)
	}

	if err := json.Unmarshal(data, &p.values); err != nil {
		return nil, fmt.Errorf("failed to parse prefs file: %w", err)
	}

	return p, nil
}

// GetString returns the value for key and whether it was present.
func (p *Prefs) GetString(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[key]
	return v, ok
}

// SetString stores key=value and persists the whole file atomically.
func (p *Prefs) SetString(key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
	return p.flushLocked()
}

// Update applies several changes as a single durable write. A nil value in
// changes deletes the key. Either the whole batch becomes visible on disk or
// none of it does.
func (p *Prefs) Update(changes map[string]*string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range changes {
		if v == nil {
			delete(p.values, k)
		} else {
			p.values[k] = *v
		}
	}
	return p.flushLocked()
}

// Delete removes key and persists the change.
func (p *Prefs) Delete(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, key)
	return p.flushLocked()
}

func (p *Prefs) flushLocked() error {
	data, err := json.MarshalIndent(p.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal prefs: %w", err)
	}

	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, ".prefs-*")
	if err != nil {
		return fmt.Errorf("failed to create temp prefs file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write prefs: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to sync prefs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close prefs: %w", err)
	}

	if err := os.Rename(tmp.Name(), p.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace prefs file: %w", err)
	}

	return nil
}
