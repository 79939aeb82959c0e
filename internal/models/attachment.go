// Package models defines the attachment store's data model: attachment
// identities, metadata records and the ephemeral value objects passed between
// the repository, the stream codec and the thumbnail pipeline.
package models

import (
	"fmt"
	"io"
	"strings"
)

// TransferState is the lifecycle flag on an attachment row indicating
// upload/download progress. The numeric encoding is part of the row schema
// contract consumed by other subsystems.
type TransferState int

const (
	TransferDone    TransferState = 0
	TransferStarted TransferState = 1
	TransferFailed  TransferState = 2
)

// AttachmentID is the composite identity of a stored attachment. RowID is the
// metadata-store primary key; UniqueID is derived from the creation timestamp
// and invalidates stale file handles and caches after row updates.
type AttachmentID struct {
	RowID    int64
	UniqueID int64
}

func (id AttachmentID) String() string {
	return fmt.Sprintf("(row id: %d, unique id: %d)", id.RowID, id.UniqueID)
}

// Attachment is one stored (or pending) attachment row.
type Attachment struct {
	ID            AttachmentID
	MessageID     int64
	ContentType   string
	TransferState TransferState

	DataPath   string
	DataRandom []byte
	Size       int64

	ThumbnailPath        string
	ThumbnailRandom      []byte
	ThumbnailAspectRatio float64

	Width  int
	Height int

	VoiceNote bool
	Quote     bool
	Sticker   bool

	FileName string
	Caption  string
	URL      string

	// remote metadata kept for the external sync/transfer layer
	Digest      []byte
	Location    string
	Disposition string
}

// HasData reports whether the row references an encrypted data file on disk.
// The invariant is that this always agrees with DataPath being non-empty.
func (a *Attachment) HasData() bool { return a.DataPath != "" }

// HasThumbnail reports whether the row references an encrypted thumbnail file.
func (a *Attachment) HasThumbnail() bool { return a.ThumbnailPath != "" }

// NewAttachment describes an attachment being attached to a message. Source
// may be nil for a placeholder row awaiting download (transfer state STARTED);
// Thumbnail may carry a pre-generated thumbnail stream supplied by the sender.
type NewAttachment struct {
	ContentType   string
	TransferState TransferState

	Source               io.Reader
	Thumbnail            io.Reader
	ThumbnailAspectRatio float64

	Width  int
	Height int

	VoiceNote bool
	Quote     bool
	Sticker   bool

	FileName string
	Caption  string
	URL      string

	Digest      []byte
	Location    string
	Disposition string
}

// DataInfo is the ephemeral result of every encrypted write: the file it
// landed in, the plaintext length and the per-file random value. It is never
// persisted directly; its fields are projected into Attachment columns.
type DataInfo struct {
	Path   string
	Length int64
	Random []byte
}

// AudioExtras carries the voice-message extras stored on audio/* rows only.
type AudioExtras struct {
	ID            AttachmentID
	VisualSamples []byte
	DurationMs    int64
}

// IsImageType reports whether the content type is an image.
func IsImageType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

// IsVideoType reports whether the content type is a video.
func IsVideoType(contentType string) bool {
	return strings.HasPrefix(contentType, "video/")
}

// IsAudioType reports whether the content type is audio.
func IsAudioType(contentType string) bool {
	return strings.HasPrefix(contentType, "audio/")
}
