// Package attachments contains the metadata row store for the attachment
// table. It only moves rows; file lifecycle and encryption live in the
// service layer.
package attachments

import (
	"context"

	"github.com/dmitrijs2005/mediavault/internal/models"
)

// Column selects which encrypted part a row operation targets.
type Column string

const (
	ColumnData      Column = "data"
	ColumnThumbnail Column = "thumbnail"
)

// PartPaths is the on-disk footprint of one row, used by deletions to remove
// backing files together with the row and to evict its cached previews.
type PartPaths struct {
	ID            models.AttachmentID
	DataPath      string
	ThumbnailPath string
	ContentType   string
}

// Repository describes CRUD and workflow operations for attachment rows.
// Implementations are typically backed by a local SQLite database.
//
// Lookup operations report a missing row as (nil, nil): absence is an
// expected state during the attachment lifecycle, not an error.
type Repository interface {
	// Insert persists a new row and returns its row id.
	Insert(ctx context.Context, a *models.Attachment) (int64, error)

	// GetByID returns the row with the given row id.
	GetByID(ctx context.Context, rowID int64) (*models.Attachment, error)

	// GetByMessage returns all non-quote rows owned by a message. Quoted
	// attachments are modeled as rows but never surfaced as message
	// attachments.
	GetByMessage(ctx context.Context, messageID int64) ([]*models.Attachment, error)

	// GetPending returns all rows still in the STARTED transfer state.
	GetPending(ctx context.Context) ([]*models.Attachment, error)

	// DataInfo returns the file path, size and random value for one part of
	// a row, or nil if the row is absent or the part has no file yet.
	DataInfo(ctx context.Context, id models.AttachmentID, which Column) (*models.DataInfo, error)

	// UpdateTransferState moves a row to the given transfer state.
	UpdateTransferState(ctx context.Context, id models.AttachmentID, state models.TransferState) error

	// UpdateUploaded records a completed upload: DONE state plus the remote
	// location/digest/disposition metadata the sync layer reported.
	UpdateUploaded(ctx context.Context, id models.AttachmentID, size int64, location, disposition, url string, digest []byte) error

	// UpdateData replaces the data part columns after re-encryption (e.g.
	// post-transcode), updating size, content type and dimensions.
	UpdateData(ctx context.Context, id models.AttachmentID, info models.DataInfo, contentType string, width, height int) error

	// UpdateThumbnail sets the thumbnail part columns.
	UpdateThumbnail(ctx context.Context, id models.AttachmentID, info models.DataInfo, aspectRatio float64) error

	// FillPlaceholder writes received content into a pending row's part
	// columns, clears the remote metadata and flips the row to DONE.
	FillPlaceholder(ctx context.Context, id models.AttachmentID, which Column, info models.DataInfo) error

	// PathsByID returns the row's on-disk footprint.
	PathsByID(ctx context.Context, id models.AttachmentID) (*PartPaths, error)

	// PathsByMessage returns the on-disk footprint of every row owned by the
	// given messages.
	PathsByMessage(ctx context.Context, messageIDs ...int64) ([]PartPaths, error)

	// DeleteByID removes one row.
	DeleteByID(ctx context.Context, id models.AttachmentID) error

	// DeleteByMessage removes all rows owned by the given messages.
	DeleteByMessage(ctx context.Context, messageIDs ...int64) error

	// DeleteAll removes every row in the table.
	DeleteAll(ctx context.Context) error

	// AudioExtras returns the voice-message extras for an audio/* row, or
	// nil if the row is not audio or any extras column is unset.
	AudioExtras(ctx context.Context, id models.AttachmentID) (*models.AudioExtras, error)

	// SetAudioExtras updates the extras columns on an audio/* row. It
	// reports whether any row was altered.
	SetAudioExtras(ctx context.Context, extras models.AudioExtras) (bool, error)
}
