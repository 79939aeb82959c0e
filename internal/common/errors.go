// Package common contains shared helpers and sentinel errors used across
// MediaVault components.
package common

import "errors"

var (

	// repository specific errors
	ErrorNotFound = errors.New("not found")

	// secret store specific errors
	ErrorSecretUnsealFailed = errors.New("failed to unseal secret")
	ErrorMalformedSecret    = errors.New("malformed secret")

	// stream codec specific errors
	ErrorInvalidKeyMaterial = errors.New("invalid key material")

	// thumbnail pipeline specific errors
	ErrorThumbnailUnavailable = errors.New("no thumbnail available")
	ErrorThumbnailUnsupported = errors.New("thumbnail generation not supported")
)
