// Package services contains the attachment store's orchestration layer: the
// AttachmentService ties the metadata repository, the encrypted part codec
// and the thumbnail pipeline together so that a row and its backing files
// always change as a unit.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/cryptox"
	"github.com/dmitrijs2005/mediavault/internal/dbx"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/models"
	"github.com/dmitrijs2005/mediavault/internal/repositories/attachments"
)

// ChangeListener is notified whenever the attachment set of a message changes
// (inserts, downloads landing, transfer failures, deletions). The messaging
// layer uses it to refresh conversation views.
type ChangeListener interface {
	AttachmentsChanged(ctx context.Context, messageID int64)
}

// CacheInvalidator evicts rendered previews of an attachment from the UI
// image cache after its content changes or disappears.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, id models.AttachmentID)
}

type noopListener struct{}

func (noopListener) AttachmentsChanged(context.Context, int64) {}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, models.AttachmentID) {}

// SecretSource yields the installation's attachment secret.
type SecretSource interface {
	GetOrCreateAttachmentSecret(ctx context.Context) (*models.AttachmentSecret, error)
}

// AttachmentService is the public surface of the encrypted attachment store.
type AttachmentService struct {
	db       *sql.DB
	repos    func(dbx.DBTX) attachments.Repository
	secrets  SecretSource
	partsDir string
	log      logging.Logger

	listener    ChangeListener
	cache       CacheInvalidator
	thumbnails  *ThumbnailPipeline
	extractor   FrameExtractor
	audioExtras sync.Mutex
}

// Option configures an AttachmentService.
type Option func(*AttachmentService)

// WithChangeListener installs a listener for attachment set changes.
func WithChangeListener(l ChangeListener) Option {
	return func(s *AttachmentService) { s.listener = l }
}

// WithCacheInvalidator installs the preview cache eviction hook.
func WithCacheInvalidator(c CacheInvalidator) Option {
	return func(s *AttachmentService) { s.cache = c }
}

// WithFrameExtractor installs the video frame extractor used to generate
// thumbnails on demand.
func WithFrameExtractor(e FrameExtractor) Option {
	return func(s *AttachmentService) { s.extractor = e }
}

// NewAttachmentService constructs the service. partsDir is the app-private
// directory that receives encrypted part files; it is created on first write.
func NewAttachmentService(db *sql.DB, secrets SecretSource, partsDir string, log logging.Logger, opts ...Option) *AttachmentService {
	s := &AttachmentService{
		db:       db,
		repos:    func(tx dbx.DBTX) attachments.Repository { return attachments.NewSQLiteRepository(tx) },
		secrets:  secrets,
		partsDir: partsDir,
		log:      log,
		listener: noopListener{},
		cache:    noopInvalidator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.extractor == nil {
		s.extractor = UnsupportedExtractor{}
	}
	s.thumbnails = NewThumbnailPipeline(s.generateThumbnail, log)
	return s
}

// Close stops the background thumbnail worker.
func (s *AttachmentService) Close() {
	s.thumbnails.Close()
}

// InsertAttachmentsForMessage persists the given attachments for a message.
// Attachments with a Source stream are encrypted to disk immediately; those
// without become placeholder rows in the STARTED transfer state awaiting a
// download. Rows land in a single transaction.
func (s *AttachmentService) InsertAttachmentsForMessage(ctx context.Context, messageID int64, items []*models.NewAttachment) ([]models.AttachmentID, error) {
	secret, err := s.secrets.GetOrCreateAttachmentSecret(ctx)
	if err != nil {
		return nil, err
	}

	type staged struct {
		row       *models.Attachment
		dataPath  string
		thumbPath string
	}

	prepared := make([]*staged, 0, len(items))
	cleanup := func() {
		for _, p := range prepared {
			removeFileIfExists(ctx, s.log, p.dataPath)
			removeFileIfExists(ctx, s.log, p.thumbPath)
		}
	}

	for _, item := range items {
		st := &staged{row: &models.Attachment{
			ID:                   models.AttachmentID{UniqueID: time.Now().UnixMilli()},
			MessageID:            messageID,
			ContentType:          item.ContentType,
			TransferState:        item.TransferState,
			ThumbnailAspectRatio: item.ThumbnailAspectRatio,
			Width:                item.Width,
			Height:               item.Height,
			VoiceNote:            item.VoiceNote,
			Quote:                item.Quote,
			Sticker:              item.Sticker,
			FileName:             item.FileName,
			Caption:              item.Caption,
			URL:                  item.URL,
			Digest:               item.Digest,
			Location:             item.Location,
			Disposition:          item.Disposition,
		}}

		if item.Source != nil {
			info, err := s.encryptToNewPart(secret, item.Source)
			if err != nil {
				cleanup()
				return nil, err
			}
			st.dataPath = info.Path
			st.row.DataPath = info.Path
			st.row.DataRandom = info.Random
			st.row.Size = info.Length
		} else {
			st.row.TransferState = models.TransferStarted
		}

		if item.Thumbnail != nil {
			info, err := s.encryptToNewPart(secret, item.Thumbnail)
			if err != nil {
				cleanup()
				return nil, err
			}
			st.thumbPath = info.Path
			st.row.ThumbnailPath = info.Path
			st.row.ThumbnailRandom = info.Random
		}

		prepared = append(prepared, st)
	}

	ids := make([]models.AttachmentID, 0, len(prepared))
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos(tx)
		for _, p := range prepared {
			rowID, err := repo.Insert(ctx, p.row)
			if err != nil {
				return err
			}
			ids = append(ids, models.AttachmentID{RowID: rowID, UniqueID: p.row.ID.UniqueID})
		}
		return nil
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	for i, id := range ids {
		s.log.Info(ctx, "inserted attachment", "id", id.String(), "message_id", messageID)
		row := prepared[i].row
		if row.ThumbnailPath == "" {
			s.enqueueThumbnail(ctx, id, row.ContentType, row.DataPath != "")
		}
	}
	s.listener.AttachmentsChanged(ctx, messageID)
	return ids, nil
}

// enqueueThumbnail kicks off background thumbnail derivation for video
// content that has data but no thumbnail yet. The caller does not wait:
// ThumbnailStream joins the in-flight generation if it arrives first.
func (s *AttachmentService) enqueueThumbnail(ctx context.Context, id models.AttachmentID, contentType string, hasData bool) {
	if !models.IsVideoType(contentType) || !hasData {
		return
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := s.thumbnails.Ensure(bg, id); err != nil {
			s.log.Debug(bg, "background thumbnail derivation failed", "id", id.String(), "error", err)
		}
	}()
}

// InsertPlaceholder persists a single placeholder row for content that will
// arrive later via a download.
func (s *AttachmentService) InsertPlaceholder(ctx context.Context, messageID int64, item *models.NewAttachment) (models.AttachmentID, error) {
	copied := *item
	copied.Source = nil
	copied.TransferState = models.TransferStarted

	ids, err := s.InsertAttachmentsForMessage(ctx, messageID, []*models.NewAttachment{&copied})
	if err != nil {
		return models.AttachmentID{}, err
	}
	return ids[0], nil
}

// GetAttachment returns the attachment with the given row id, or nil if it
// does not exist.
func (s *AttachmentService) GetAttachment(ctx context.Context, rowID int64) (*models.Attachment, error) {
	return s.repos(s.db).GetByID(ctx, rowID)
}

// GetAttachmentsForMessage returns the message's attachments, quote rows
// excluded.
func (s *AttachmentService) GetAttachmentsForMessage(ctx context.Context, messageID int64) ([]*models.Attachment, error) {
	return s.repos(s.db).GetByMessage(ctx, messageID)
}

// GetPendingAttachments returns every attachment still mid-transfer.
func (s *AttachmentService) GetPendingAttachments(ctx context.Context) ([]*models.Attachment, error) {
	return s.repos(s.db).GetPending(ctx)
}

// AttachmentStream returns a plaintext stream over the attachment's data,
// positioned at offset. Returns ErrorNotFound when the row is absent or has
// no data file yet.
func (s *AttachmentService) AttachmentStream(ctx context.Context, id models.AttachmentID, offset int64) (io.ReadCloser, error) {
	return s.partStream(ctx, id, attachments.ColumnData, offset)
}

// ThumbnailStream returns a plaintext stream over the attachment's thumbnail.
// For video attachments without a stored thumbnail, one is generated first;
// the call blocks until generation finishes. Returns ErrorThumbnailUnavailable
// when no thumbnail exists and none can be generated.
func (s *AttachmentService) ThumbnailStream(ctx context.Context, id models.AttachmentID) (io.ReadCloser, error) {
	repo := s.repos(s.db)

	info, err := repo.DataInfo(ctx, id, attachments.ColumnThumbnail)
	if err != nil {
		return nil, err
	}
	if info == nil {
		a, err := repo.GetByID(ctx, id.RowID)
		if err != nil {
			return nil, err
		}
		if a == nil || a.ID != id {
			return nil, fmt.Errorf("attachment %s: %w", id.String(), common.ErrorNotFound)
		}
		if !models.IsVideoType(a.ContentType) || !a.HasData() {
			return nil, fmt.Errorf("attachment %s: %w", id.String(), common.ErrorThumbnailUnavailable)
		}

		if err := s.thumbnails.Ensure(ctx, id); err != nil {
			return nil, err
		}
		info, err = repo.DataInfo(ctx, id, attachments.ColumnThumbnail)
		if err != nil {
			return nil, err
		}
		if info == nil {
			return nil, fmt.Errorf("attachment %s: %w", id.String(), common.ErrorThumbnailUnavailable)
		}
	}

	secret, err := s.secrets.GetOrCreateAttachmentSecret(ctx)
	if err != nil {
		return nil, err
	}
	return cryptox.DecryptFromFile(secret, info.Random, info.Path, 0)
}

// FillPlaceholderData stores downloaded content into a placeholder row,
// flipping it to DONE and clearing the remote metadata. If the row vanished
// while the download ran, the orphan file is removed and ErrorNotFound
// returned.
func (s *AttachmentService) FillPlaceholderData(ctx context.Context, id models.AttachmentID, src io.Reader) error {
	secret, err := s.secrets.GetOrCreateAttachmentSecret(ctx)
	if err != nil {
		return err
	}

	info, err := s.encryptToNewPart(secret, src)
	if err != nil {
		return err
	}

	if err := s.repos(s.db).FillPlaceholder(ctx, id, attachments.ColumnData, info); err != nil {
		removeFileIfExists(ctx, s.log, info.Path)
		return err
	}

	a, err := s.repos(s.db).GetByID(ctx, id.RowID)
	if err == nil && a != nil {
		s.listener.AttachmentsChanged(ctx, a.MessageID)
		if !a.HasThumbnail() {
			s.enqueueThumbnail(ctx, id, a.ContentType, true)
		}
	}
	s.cache.Invalidate(ctx, id)
	s.log.Info(ctx, "stored downloaded attachment", "id", id.String(), "size", info.Length)
	return nil
}

// UpdateAttachmentData replaces the attachment's content (e.g. after a
// transcode), re-encrypting into a fresh part file and removing the old one.
// The attachment identity is preserved.
func (s *AttachmentService) UpdateAttachmentData(ctx context.Context, id models.AttachmentID, contentType string, width, height int, src io.Reader) error {
	repo := s.repos(s.db)

	old, err := repo.DataInfo(ctx, id, attachments.ColumnData)
	if err != nil {
		return err
	}

	secret, err := s.secrets.GetOrCreateAttachmentSecret(ctx)
	if err != nil {
		return err
	}

	info, err := s.encryptToNewPart(secret, src)
	if err != nil {
		return err
	}

	if err := repo.UpdateData(ctx, id, info, contentType, width, height); err != nil {
		removeFileIfExists(ctx, s.log, info.Path)
		return err
	}

	if old != nil && old.Path != info.Path {
		removeFileIfExists(ctx, s.log, old.Path)
	}
	s.cache.Invalidate(ctx, id)
	return nil
}

// SetTransferState moves the attachment to the given transfer state and
// notifies the owning message's listeners.
func (s *AttachmentService) SetTransferState(ctx context.Context, messageID int64, id models.AttachmentID, state models.TransferState) error {
	if err := s.repos(s.db).UpdateTransferState(ctx, id, state); err != nil {
		return err
	}
	s.listener.AttachmentsChanged(ctx, messageID)
	return nil
}

// MarkUploaded records a completed upload together with the remote metadata
// reported by the transfer layer.
func (s *AttachmentService) MarkUploaded(ctx context.Context, messageID int64, id models.AttachmentID, size int64, location, disposition, url string, digest []byte) error {
	if err := s.repos(s.db).UpdateUploaded(ctx, id, size, location, disposition, url, digest); err != nil {
		return err
	}
	s.listener.AttachmentsChanged(ctx, messageID)
	return nil
}

// HandleFailedTransfer marks the attachment FAILED so the UI can offer a
// retry.
func (s *AttachmentService) HandleFailedTransfer(ctx context.Context, messageID int64, id models.AttachmentID) error {
	s.log.Warn(ctx, "attachment transfer failed", "id", id.String(), "message_id", messageID)
	return s.SetTransferState(ctx, messageID, id, models.TransferFailed)
}

// DeleteAttachment removes the row and its backing files as a unit.
func (s *AttachmentService) DeleteAttachment(ctx context.Context, id models.AttachmentID) error {
	repo := s.repos(s.db)

	paths, err := repo.PathsByID(ctx, id)
	if err != nil {
		return err
	}
	if paths == nil {
		return nil
	}

	if err := repo.DeleteByID(ctx, id); err != nil {
		return err
	}

	s.removePartFiles(ctx, *paths)
	s.log.Info(ctx, "deleted attachment", "id", id.String())
	return nil
}

// DeleteAttachmentsForMessages removes every attachment owned by the given
// messages, rows and files together.
func (s *AttachmentService) DeleteAttachmentsForMessages(ctx context.Context, messageIDs ...int64) error {
	repo := s.repos(s.db)

	paths, err := repo.PathsByMessage(ctx, messageIDs...)
	if err != nil {
		return err
	}

	if err := repo.DeleteByMessage(ctx, messageIDs...); err != nil {
		return err
	}

	for _, p := range paths {
		s.removePartFiles(ctx, p)
	}
	for _, messageID := range messageIDs {
		s.listener.AttachmentsChanged(ctx, messageID)
	}
	return nil
}

// DeleteAllAttachments wipes the table and the entire parts directory.
func (s *AttachmentService) DeleteAllAttachments(ctx context.Context) error {
	if err := s.repos(s.db).DeleteAll(ctx); err != nil {
		return err
	}
	if err := os.RemoveAll(s.partsDir); err != nil {
		return fmt.Errorf("failed to remove parts directory: %w", err)
	}
	s.log.Info(ctx, "deleted all attachments")
	return nil
}

// AudioExtras returns the voice-message extras of an audio attachment, or nil
// when unset.
func (s *AttachmentService) AudioExtras(ctx context.Context, id models.AttachmentID) (*models.AudioExtras, error) {
	s.audioExtras.Lock()
	defer s.audioExtras.Unlock()
	return s.repos(s.db).AudioExtras(ctx, id)
}

// SetAudioExtras stores voice-message extras on an audio attachment and
// notifies the owning message when a row was altered.
func (s *AttachmentService) SetAudioExtras(ctx context.Context, messageID int64, extras models.AudioExtras) error {
	s.audioExtras.Lock()
	altered, err := s.repos(s.db).SetAudioExtras(ctx, extras)
	s.audioExtras.Unlock()
	if err != nil {
		return err
	}
	if altered {
		s.listener.AttachmentsChanged(ctx, messageID)
	}
	return nil
}

// partStream decrypts one part of a row. Absent rows and empty part columns
// both surface as ErrorNotFound.
func (s *AttachmentService) partStream(ctx context.Context, id models.AttachmentID, which attachments.Column, offset int64) (io.ReadCloser, error) {
	info, err := s.repos(s.db).DataInfo(ctx, id, which)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("attachment %s has no %s: %w", id.String(), which, common.ErrorNotFound)
	}

	secret, err := s.secrets.GetOrCreateAttachmentSecret(ctx)
	if err != nil {
		return nil, err
	}

	r, err := cryptox.DecryptFromFile(secret, info.Random, info.Path, offset)
	if err != nil {
		s.log.Warn(ctx, "failed to open attachment stream", "id", id.String(), "error", err)
		return nil, fmt.Errorf("attachment %s stream unavailable: %w", id.String(), common.ErrorNotFound)
	}
	return r, nil
}

// generateThumbnail runs on the thumbnail worker: extract a frame from the
// video, encrypt it and attach it to the row. A second look at the row is
// taken first since a thumbnail may have landed while the job was queued.
func (s *AttachmentService) generateThumbnail(ctx context.Context, id models.AttachmentID) error {
	repo := s.repos(s.db)

	existing, err := repo.DataInfo(ctx, id, attachments.ColumnThumbnail)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	data, err := s.partStream(ctx, id, attachments.ColumnData, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrorThumbnailUnavailable, err)
	}
	defer data.Close()

	frame, aspectRatio, err := s.extractor.ExtractFrame(ctx, data)
	if err != nil {
		if errors.Is(err, common.ErrorThumbnailUnsupported) {
			return fmt.Errorf("attachment %s: %w", id.String(), err)
		}
		s.log.Warn(ctx, "thumbnail extraction failed", "id", id.String(), "error", err)
		return fmt.Errorf("attachment %s: %w", id.String(), common.ErrorThumbnailUnavailable)
	}

	secret, err := s.secrets.GetOrCreateAttachmentSecret(ctx)
	if err != nil {
		return err
	}

	info, err := s.encryptToNewPart(secret, frame)
	if err != nil {
		return err
	}

	if err := repo.UpdateThumbnail(ctx, id, info, aspectRatio); err != nil {
		removeFileIfExists(ctx, s.log, info.Path)
		return err
	}

	s.log.Info(ctx, "generated thumbnail", "id", id.String())
	return nil
}

// encryptToNewPart streams src into a freshly named encrypted part file.
func (s *AttachmentService) encryptToNewPart(secret *models.AttachmentSecret, src io.Reader) (models.DataInfo, error) {
	if err := os.MkdirAll(s.partsDir, 0o700); err != nil {
		return models.DataInfo{}, fmt.Errorf("failed to create parts directory: %w", err)
	}

	path := filepath.Join(s.partsDir, uuid.NewString()+".part")
	info, err := cryptox.EncryptToFile(secret, path, src)
	if err != nil {
		removeFileIfExists(context.Background(), s.log, path)
		return models.DataInfo{}, err
	}
	return info, nil
}

// removePartFiles deletes a row's backing files and evicts cached previews of
// image content or of anything that had a thumbnail.
func (s *AttachmentService) removePartFiles(ctx context.Context, paths attachments.PartPaths) {
	removeFileIfExists(ctx, s.log, paths.DataPath)
	removeFileIfExists(ctx, s.log, paths.ThumbnailPath)

	if models.IsImageType(paths.ContentType) || paths.ThumbnailPath != "" {
		s.cache.Invalidate(ctx, paths.ID)
	}
}

func removeFileIfExists(ctx context.Context, log logging.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn(ctx, "failed to remove part file", "path", path, "error", err)
	}
}
