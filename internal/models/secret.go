package models

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/mediavault/internal/common"
)

// AttachmentSecret is the symmetric key protecting all locally stored
// attachment file contents. ModernKey keys the current seekable stream
// format; the classic keys only survive for installations that still hold
// files written by the pre-v2 format and are absent on fresh installs.
//
// The secret is created once per installation and is immutable afterwards.
type AttachmentSecret struct {
	ClassicCipherKey []byte `json:"classicCipherKey,omitempty"`
	ClassicMacKey    []byte `json:"classicMacKey,omitempty"`
	ModernKey        []byte `json:"modernKey"`
}

// Serialize encodes the secret for sealing. The encoding is stable because
// sealed blobs from previous runs must keep parsing.
func (s *AttachmentSecret) Serialize() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to serialize attachment secret: %w", err)
	}
	return string(data), nil
}

// AttachmentSecretFromString parses a serialized secret. A secret without a
// modern key is malformed: every installation that ever wrote one had it.
func AttachmentSecretFromString(serialized string) (*AttachmentSecret, error) {
	var s AttachmentSecret
	if err := json.Unmarshal([]byte(serialized), &s); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorMalformedSecret, err)
	}
	if len(s.ModernKey) == 0 {
		return nil, fmt.Errorf("%w: missing modern key", common.ErrorMalformedSecret)
	}
	return &s, nil
}
