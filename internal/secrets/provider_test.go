package secrets

import (
	"context"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/keystore"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/models"
	"github.com/dmitrijs2005/mediavault/internal/prefs"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func testSealer(t *testing.T) keystore.Sealer {
	t.Helper()
	s, err := keystore.NewPassphraseSealer([]byte("test passphrase"), []byte("fixed-salt-16byte"))
	require.NoError(t, err)
	return s
}

func newProvider(t *testing.T) (*Provider, *prefs.Prefs) {
	t.Helper()
	p, err := prefs.Open(filepath.Join(t.TempDir(), "prefs.json"))
	require.NoError(t, err)
	return NewProvider(p, testSealer(t), testLogger()), p
}

func TestGetOrCreateAttachmentSecret_CreatesAndSeals(t *testing.T) {
	provider, pr := newProvider(t)
	ctx := context.Background()

	secret, err := provider.GetOrCreateAttachmentSecret(ctx)
	require.NoError(t, err)
	require.Len(t, secret.ModernKey, 32)
	assert.Empty(t, secret.ClassicCipherKey)

	_, ok := pr.GetString(prefs.KeyAttachmentUnencryptedSecret)
	assert.False(t, ok)
	sealed, ok := pr.GetString(prefs.KeyAttachmentEncryptedSecret)
	require.True(t, ok)
	assert.NotEmpty(t, sealed)
}

func TestGetOrCreateAttachmentSecret_StableAcrossProviders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	ctx := context.Background()

	pr1, err := prefs.Open(path)
	require.NoError(t, err)
	first, err := NewProvider(pr1, testSealer(t), testLogger()).GetOrCreateAttachmentSecret(ctx)
	require.NoError(t, err)

	pr2, err := prefs.Open(path)
	require.NoError(t, err)
	second, err := NewProvider(pr2, testSealer(t), testLogger()).GetOrCreateAttachmentSecret(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.ModernKey, second.ModernKey)
}

func TestGetOrCreateAttachmentSecret_ConcurrentFirstCall(t *testing.T) {
	provider, pr := newProvider(t)
	ctx := context.Background()

	const workers = 32
	results := make([]*models.AttachmentSecret, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = provider.GetOrCreateAttachmentSecret(ctx)
		}(i)
	}
	wg.Wait()

	// exactly one secret minted; everyone holds the same reference
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}

	sealed, ok := pr.GetString(prefs.KeyAttachmentEncryptedSecret)
	require.True(t, ok)
	assert.NotEmpty(t, sealed)
}

func TestGetOrCreateAttachmentSecret_MigratesUnsealedLegacy(t *testing.T) {
	provider, pr := newProvider(t)
	ctx := context.Background()

	legacy := &models.AttachmentSecret{
		ClassicCipherKey: common.GenerateRandByteArray(32),
		ClassicMacKey:    common.GenerateRandByteArray(32),
		ModernKey:        common.GenerateRandByteArray(32),
	}
	serialized, err := legacy.Serialize()
	require.NoError(t, err)
	require.NoError(t, pr.SetString(prefs.KeyAttachmentUnencryptedSecret, serialized))

	secret, err := provider.GetOrCreateAttachmentSecret(ctx)
	require.NoError(t, err)
	assert.Equal(t, legacy.ModernKey, secret.ModernKey)
	assert.Equal(t, legacy.ClassicCipherKey, secret.ClassicCipherKey)

	// unsealed copy removed, sealed copy present and decryptable
	_, ok := pr.GetString(prefs.KeyAttachmentUnencryptedSecret)
	assert.False(t, ok)
	sealedStr, ok := pr.GetString(prefs.KeyAttachmentEncryptedSecret)
	require.True(t, ok)

	sealed, err := keystore.SealedDataFromString(sealedStr)
	require.NoError(t, err)
	plain, err := testSealer(t).Unseal(sealed)
	require.NoError(t, err)
	assert.Equal(t, serialized, string(plain))
}

func TestGetOrCreateAttachmentSecret_CorruptSealedIsFatal(t *testing.T) {
	provider, pr := newProvider(t)
	ctx := context.Background()

	require.NoError(t, pr.SetString(prefs.KeyAttachmentEncryptedSecret, "garbage"))

	_, err := provider.GetOrCreateAttachmentSecret(ctx)
	require.ErrorIs(t, err, common.ErrorSecretUnsealFailed)

	// not silently regenerated: the corrupt value is untouched and the
	// second call fails the same way
	v, ok := pr.GetString(prefs.KeyAttachmentEncryptedSecret)
	require.True(t, ok)
	assert.Equal(t, "garbage", v)

	_, err = provider.GetOrCreateAttachmentSecret(ctx)
	require.ErrorIs(t, err, common.ErrorSecretUnsealFailed)
}

func TestGetOrCreateDatabaseSecret_CreateAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	ctx := context.Background()

	pr1, err := prefs.Open(path)
	require.NoError(t, err)
	first, err := NewProvider(pr1, testSealer(t), testLogger()).GetOrCreateDatabaseSecret(ctx)
	require.NoError(t, err)
	require.Len(t, first, 32)

	pr2, err := prefs.Open(path)
	require.NoError(t, err)
	second, err := NewProvider(pr2, testSealer(t), testLogger()).GetOrCreateDatabaseSecret(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGetOrCreateLogSecret_MigratesBase64Legacy(t *testing.T) {
	provider, pr := newProvider(t)
	ctx := context.Background()

	raw := common.GenerateRandByteArray(32)
	require.NoError(t, pr.SetString(prefs.KeyLogUnencryptedSecret, base64.StdEncoding.EncodeToString(raw)))

	secret, err := provider.GetOrCreateLogSecret(ctx)
	require.NoError(t, err)
	assert.Equal(t, raw, secret)

	_, ok := pr.GetString(prefs.KeyLogUnencryptedSecret)
	assert.False(t, ok)
	_, ok = pr.GetString(prefs.KeyLogEncryptedSecret)
	assert.True(t, ok)
}

func TestSecretKindsAreIndependent(t *testing.T) {
	provider, _ := newProvider(t)
	ctx := context.Background()

	db, err := provider.GetOrCreateDatabaseSecret(ctx)
	require.NoError(t, err)
	logSecret, err := provider.GetOrCreateLogSecret(ctx)
	require.NoError(t, err)
	attachment, err := provider.GetOrCreateAttachmentSecret(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, db, logSecret)
	assert.NotEqual(t, db, attachment.ModernKey)
}
