package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPrefs(t *testing.T) (*Prefs, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefs.json")
	p, err := Open(path)
	require.NoError(t, err)
	return p, path
}

func TestOpen_MissingFileIsEmptyStore(t *testing.T) {
	p, _ := openPrefs(t)
	_, ok := p.GetString("nope")
	assert.False(t, ok)
}

func TestSetString_PersistsAcrossReopen(t *testing.T) {
	p, path := openPrefs(t)
	require.NoError(t, p.SetString(KeyAttachmentEncryptedSecret, "sealed-blob"))

	reopened, err := Open(path)
	require.NoError(t, err)

	v, ok := reopened.GetString(KeyAttachmentEncryptedSecret)
	require.True(t, ok)
	assert.Equal(t, "sealed-blob", v)
}

func TestUpdate_AppliesBatchIncludingDeletes(t *testing.T) {
	p, path := openPrefs(t)
	require.NoError(t, p.SetString(KeyAttachmentUnencryptedSecret, "legacy"))

	sealed := "sealed"
	require.NoError(t, p.Update(map[string]*string{
		KeyAttachmentEncryptedSecret:   &sealed,
		KeyAttachmentUnencryptedSecret: nil,
	}))

	reopened, err := Open(path)
	require.NoError(t, err)

	_, ok := reopened.GetString(KeyAttachmentUnencryptedSecret)
	assert.False(t, ok)
	v, ok := reopened.GetString(KeyAttachmentEncryptedSecret)
	require.True(t, ok)
	assert.Equal(t, "sealed", v)
}

func TestOpen_CorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Open(path)
	require.Error(t, err)
}

func TestDelete_RemovesKey(t *testing.T) {
	p, _ := openPrefs(t)
	require.NoError(t, p.SetString("k", "v"))
	require.NoError(t, p.Delete("k"))

	_, ok := p.GetString("k")
	assert.False(t, ok)
}
