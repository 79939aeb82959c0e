// Package keystore defines the sealing boundary used to protect secrets at
// rest. Sealing encrypts a small plaintext (a serialized secret) under a key
// that is not derivable from anything stored next to the sealed blob — on
// platforms with a hardware keystore that is the enclave key, elsewhere a key
// derived from a user passphrase.
//
// The store only ever consumes the Sealer interface; the concrete mechanism
// is wiring-time configuration.
package keystore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Sealer encrypts and decrypts small secret payloads.
type Sealer interface {
	// Seal encrypts plaintext and returns the sealed representation.
	Seal(plaintext []byte) (SealedData, error)

	// Unseal decrypts sealed data produced by Seal. A failure here is fatal
	// for the caller: the plaintext cannot be recovered by other means.
	Unseal(data SealedData) ([]byte, error)
}

// SealedData is the at-rest serialization of a sealed secret: the cipher IV
// and the ciphertext. Callers treat the serialized form as an opaque string.
type SealedData struct {
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
}

// Serialize encodes the sealed data as an opaque string suitable for storage
// in persisted preferences.
func (d SealedData) Serialize() string {
	data, err := json.Marshal(d)
	if err != nil {
		// both fields are byte slices; marshalling cannot fail
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(data)
}

// SealedDataFromString decodes a string produced by Serialize.
func SealedDataFromString(s string) (SealedData, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return SealedData{}, fmt.Errorf("failed to decode sealed data: %w", err)
	}

	var d SealedData
	if err := json.Unmarshal(raw, &d); err != nil {
		return SealedData{}, fmt.Errorf("failed to parse sealed data: %w", err)
	}

	return d, nil
}
