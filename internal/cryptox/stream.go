// Package cryptox implements the per-file streaming codec for encrypted
// attachment part files.
//
// Two on-disk formats exist:
//
//   - Modern: AES-256-CTR under a per-file key derived with HKDF-SHA256 from
//     the installation's attachment secret and a fresh 32-byte random value.
//     The random value is stored in the metadata row, not in the file. CTR
//     makes reads seekable: decryption can start at any byte offset without
//     touching earlier ciphertext.
//   - Classic (legacy): a 16-byte IV header followed by AES-CBC/PKCS#7
//     ciphertext under the secret's classic key. Only sequential decryption
//     is possible; offsets are reached by decrypt-and-skip.
//
// A stored random value selects the format: exactly 32 bytes means modern,
// anything else (including absent) routes to the classic path.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/models"
)

// RandomSize is the length of a valid modern-format per-file random value.
const RandomSize = 32

var hkdfInfo = []byte("mediavault attachment stream")

// EncryptToFile encrypts src into a new file at path using the modern format
// and a freshly generated random value. The caller owns the file lifecycle:
// on error the partially written file must be discarded.
func EncryptToFile(secret *models.AttachmentSecret, path string, src io.Reader) (models.DataInfo, error) {
	stream, random, err := modernStream(secret, 0)
	if err != nil {
		return models.DataInfo{}, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return models.DataInfo{}, fmt.Errorf("failed to create part file: %w", err)
	}

	length, err := io.Copy(&cipher.StreamWriter{S: stream, W: f}, src)
	if err != nil {
		_ = f.Close()
		return models.DataInfo{}, fmt.Errorf("failed to write encrypted part: %w", err)
	}

	if err := f.Close(); err != nil {
		return models.DataInfo{}, fmt.Errorf("failed to close part file: %w", err)
	}

	return models.DataInfo{Path: path, Length: length, Random: random}, nil
}

// DecryptFromFile opens the encrypted file at path and returns a plaintext
// stream positioned at offset. A 32-byte random decrypts via the seekable
// modern path; any other random length falls back to sequential classic
// decryption plus skip.
func DecryptFromFile(secret *models.AttachmentSecret, random []byte, path string, offset int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, fmt.Errorf("negative offset: %d", offset)
	}

	if len(random) == RandomSize {
		return decryptModern(secret, random, path, offset)
	}
	return decryptClassic(secret, path, offset)
}

// modernStreamFor derives the per-file key from the secret and the stored
// random value and builds the CTR stream positioned at the given byte offset.
func modernStreamFor(secret *models.AttachmentSecret, random []byte, offset int64) (cipher.Stream, error) {
	if len(secret.ModernKey) == 0 {
		return nil, fmt.Errorf("%w: empty modern key", common.ErrorInvalidKeyMaterial)
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret.ModernKey, random, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("failed to derive part key: %w", err)
	}
	defer common.WipeByteArray(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorInvalidKeyMaterial, err)
	}

	// Counter for the block containing offset; the IV is otherwise zero, the
	// uniqueness guarantee comes from the per-file key.
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint64(iv[8:], uint64(offset/aes.BlockSize))

	stream := cipher.NewCTR(block, iv)

	// Discard the keystream for the partial block before offset.
	if rem := offset % aes.BlockSize; rem > 0 {
		scratch := make([]byte, rem)
		stream.XORKeyStream(scratch, scratch)
	}

	return stream, nil
}

func modernStream(secret *models.AttachmentSecret, offset int64) (cipher.Stream, []byte, error) {
	random := common.GenerateRandByteArray(RandomSize)
	stream, err := modernStreamFor(secret, random, offset)
	if err != nil {
		return nil, nil, err
	}
	return stream, random, nil
}

func decryptModern(secret *models.AttachmentSecret, random []byte, path string, offset int64) (io.ReadCloser, error) {
	stream, err := modernStreamFor(secret, random, offset)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open part file: %w", err)
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to seek part file: %w", err)
	}

	return &modernReader{f: f, stream: stream}, nil
}

type modernReader struct {
	f      *os.File
	stream cipher.Stream
}

func (r *modernReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if n > 0 {
		r.stream.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}

func (r *modernReader) Close() error { return r.f.Close() }

func decryptClassic(secret *models.AttachmentSecret, path string, offset int64) (io.ReadCloser, error) {
	if len(secret.ClassicCipherKey) == 0 {
		return nil, fmt.Errorf("%w: no classic key for legacy part", common.ErrorInvalidKeyMaterial)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open part file: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(f, iv); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read legacy IV: %w", err)
	}

	block, err := aes.NewCipher(secret.ClassicCipherKey)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %w", common.ErrorInvalidKeyMaterial, err)
	}

	r := &classicReader{f: f, mode: cipher.NewCBCDecrypter(block, iv)}

	if offset > 0 {
		if skipped, err := io.CopyN(io.Discard, r, offset); err != nil || skipped != offset {
			_ = f.Close()
			return nil, fmt.Errorf("failed to skip to offset %d (skipped %d): %w", offset, skipped, err)
		}
	}

	return r, nil
}

// classicReader streams a CBC-decrypted legacy part. The final block is
// withheld until EOF is observed so PKCS#7 padding can be stripped.
type classicReader struct {
	f       *os.File
	mode    cipher.BlockMode
	out     []byte // plaintext ready to hand out
	pending []byte // decrypted bytes withheld until more ciphertext arrives
	eof     bool
}

const classicChunkSize = 4096

func (r *classicReader) Read(p []byte) (int, error) {
	for len(r.out) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		if err := r.fill(); err != nil {
			return 0, err
		}
	}

	n := copy(p, r.out)
	r.out = r.out[n:]
	return n, nil
}

func (r *classicReader) fill() error {
	buf := make([]byte, classicChunkSize)
	n, err := io.ReadFull(r.f, buf)
	atEOF := false

	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		atEOF = true
	case errors.Is(err, io.ErrUnexpectedEOF):
		atEOF = true
	default:
		return fmt.Errorf("failed to read legacy part: %w", err)
	}

	if n%aes.BlockSize != 0 {
		return errors.New("legacy ciphertext is not block aligned")
	}

	if n > 0 {
		r.mode.CryptBlocks(buf[:n], buf[:n])
		r.pending = append(r.pending, buf[:n]...)
	}

	if atEOF {
		plain, err := pkcs7Unpad(r.pending)
		if err != nil {
			return err
		}
		r.out = plain
		r.pending = nil
		r.eof = true
		return nil
	}

	// Hand out everything except the last block, which may carry padding.
	if keep := len(r.pending) - aes.BlockSize; keep > 0 {
		r.out = r.pending[:keep]
		r.pending = append([]byte(nil), r.pending[keep:]...)
	}

	return nil
}

func (r *classicReader) Close() error { return r.f.Close() }

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, errors.New("legacy ciphertext has invalid length")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, errors.New("legacy part has invalid padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, errors.New("legacy part has invalid padding")
		}
	}
	return data[:len(data)-pad], nil
}
