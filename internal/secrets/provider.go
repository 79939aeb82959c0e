// Package secrets implements the hierarchical secret store: one provider per
// installation that mints, seals and caches the attachment secret plus the
// raw database and log secrets.
//
// Creation is a one-time, non-idempotent side effect (random generation +
// seal + persist), so every lookup path is serialized behind a mutex and the
// result is cached for the process lifetime. An unsealed legacy secret found
// in preferences is migrated to the sealed form on first access; the unsealed
// copy is deleted only in the same durable write that stores the sealed copy.
//
// Unsealing failures are fatal for the store: regenerating a secret would
// orphan every encrypted file on disk, so the error is surfaced instead.
package secrets

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/keystore"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/models"
	"github.com/dmitrijs2005/mediavault/internal/prefs"
)

const secretSize = 32

// Provider produces and caches the installation's secrets.
type Provider struct {
	prefs  *prefs.Prefs
	sealer keystore.Sealer
	log    logging.Logger

	mu         sync.Mutex
	attachment *models.AttachmentSecret
	database   []byte
	logSecret  []byte
}

// NewProvider returns a provider backed by the given preferences and sealer.
func NewProvider(p *prefs.Prefs, sealer keystore.Sealer, log logging.Logger) *Provider {
	return &Provider{prefs: p, sealer: sealer, log: log}
}

// GetOrCreateAttachmentSecret returns the attachment secret, creating and
// sealing it on first ever call for this installation. Safe for concurrent
// use; all callers observe the same in-memory value.
func (p *Provider) GetOrCreateAttachmentSecret(ctx context.Context) (*models.AttachmentSecret, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.attachment != nil {
		return p.attachment, nil
	}

	if unsealed, ok := p.prefs.GetString(prefs.KeyAttachmentUnencryptedSecret); ok {
		secret, err := p.migrateAttachmentSecret(ctx, unsealed)
		if err != nil {
			return nil, err
		}
		p.attachment = secret
		return secret, nil
	}

	if sealed, ok := p.prefs.GetString(prefs.KeyAttachmentEncryptedSecret); ok {
		serialized, err := p.unseal(sealed)
		if err != nil {
			return nil, err
		}
		secret, err := models.AttachmentSecretFromString(string(serialized))
		if err != nil {
			return nil, err
		}
		p.attachment = secret
		return secret, nil
	}

	secret := &models.AttachmentSecret{ModernKey: common.GenerateRandByteArray(secretSize)}
	serialized, err := secret.Serialize()
	if err != nil {
		return nil, err
	}
	if err := p.sealAndStore(prefs.KeyAttachmentEncryptedSecret, nil, serialized); err != nil {
		return nil, err
	}

	p.log.Info(ctx, "created attachment secret")
	p.attachment = secret
	return secret, nil
}

// GetOrCreateDatabaseSecret returns the raw 32-byte database secret.
func (p *Provider) GetOrCreateDatabaseSecret(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rawSecret(ctx, &p.database, "database",
		prefs.KeyDatabaseUnencryptedSecret, prefs.KeyDatabaseEncryptedSecret)
}

// GetOrCreateLogSecret returns the raw 32-byte log secret.
func (p *Provider) GetOrCreateLogSecret(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rawSecret(ctx, &p.logSecret, "log",
		prefs.KeyLogUnencryptedSecret, prefs.KeyLogEncryptedSecret)
}

// migrateAttachmentSecret performs the one-time move of a legacy unsealed
// secret into the sealed representation. The unsealed copy stays the source
// of truth until the sealed copy is durably written: both changes land in a
// single atomic preferences update.
func (p *Provider) migrateAttachmentSecret(ctx context.Context, unsealed string) (*models.AttachmentSecret, error) {
	secret, err := models.AttachmentSecretFromString(unsealed)
	if err != nil {
		return nil, err
	}

	if err := p.sealAndStore(prefs.KeyAttachmentEncryptedSecret, strPtr(prefs.KeyAttachmentUnencryptedSecret), unsealed); err != nil {
		return nil, err
	}

	p.log.Info(ctx, "migrated attachment secret to sealed storage")
	return secret, nil
}

// rawSecret implements the shared lookup/migrate/create path for secrets that
// are plain 32-byte values (database, log). Caller must hold p.mu.
func (p *Provider) rawSecret(ctx context.Context, cache *[]byte, kind, unsealedKey, sealedKey string) ([]byte, error) {
	if *cache != nil {
		return *cache, nil
	}

	if unsealed, ok := p.prefs.GetString(unsealedKey); ok {
		secret, err := base64.StdEncoding.DecodeString(unsealed)
		if err != nil {
			return nil, fmt.Errorf("%w: %s secret is not base64: %w", common.ErrorMalformedSecret, kind, err)
		}
		if err := p.sealAndStoreRaw(sealedKey, strPtr(unsealedKey), secret); err != nil {
			return nil, err
		}
		p.log.Info(ctx, "migrated secret to sealed storage", "kind", kind)
		*cache = secret
		return secret, nil
	}

	if sealed, ok := p.prefs.GetString(sealedKey); ok {
		secret, err := p.unseal(sealed)
		if err != nil {
			return nil, err
		}
		*cache = secret
		return secret, nil
	}

	secret := common.GenerateRandByteArray(secretSize)
	if err := p.sealAndStoreRaw(sealedKey, nil, secret); err != nil {
		return nil, err
	}

	p.log.Info(ctx, "created secret", "kind", kind)
	*cache = secret
	return secret, nil
}

func (p *Provider) unseal(serialized string) ([]byte, error) {
	sealed, err := keystore.SealedDataFromString(serialized)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorSecretUnsealFailed, err)
	}
	plaintext, err := p.sealer.Unseal(sealed)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// sealAndStore seals plaintext and persists it under sealedKey, removing
// deleteKey (if non-nil) in the same atomic write.
func (p *Provider) sealAndStore(sealedKey string, deleteKey *string, plaintext string) error {
	return p.sealAndStoreRaw(sealedKey, deleteKey, []byte(plaintext))
}

func (p *Provider) sealAndStoreRaw(sealedKey string, deleteKey *string, plaintext []byte) error {
	sealed, err := p.sealer.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("failed to seal secret: %w", err)
	}

	serialized := sealed.Serialize()
	changes := map[string]*string{sealedKey: &serialized}
	if deleteKey != nil {
		changes[*deleteKey] = nil
	}

	if err := p.prefs.Update(changes); err != nil {
		return fmt.Errorf("failed to persist sealed secret: %w", err)
	}
	return nil
}

func strPtr(s string) *string { return &s }
