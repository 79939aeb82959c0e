package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/dbx"
	"github.com/dmitrijs2005/mediavault/internal/models"
)

const projection = `_id, unique_id, message_id, content_type, transfer_state,
	data_path, data_random, data_size,
	thumbnail_path, thumbnail_random, thumbnail_aspect_ratio,
	width, height, voice_note, quote, sticker,
	file_name, caption, url, digest, content_location, content_disposition`

const partIDWhere = `_id = ? AND unique_id = ?`

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, a *models.Attachment) (int64, error) {
	query := `INSERT INTO attachments
		(unique_id, message_id, content_type, transfer_state,
		 data_path, data_random, data_size,
		 thumbnail_path, thumbnail_random, thumbnail_aspect_ratio,
		 width, height, voice_note, quote, sticker,
		 file_name, caption, url, digest, content_location, content_disposition)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		a.ID.UniqueID, a.MessageID, a.ContentType, a.TransferState,
		a.DataPath, a.DataRandom, a.Size,
		a.ThumbnailPath, a.ThumbnailRandom, a.ThumbnailAspectRatio,
		a.Width, a.Height, a.VoiceNote, a.Quote, a.Sticker,
		a.FileName, a.Caption, a.URL, a.Digest, a.Location, a.Disposition)
	if err != nil {
		return 0, fmt.Errorf("failed to insert attachment: %w", err)
	}

	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted row id: %w", err)
	}
	return rowID, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, rowID int64) (*models.Attachment, error) {
	query := `SELECT ` + projection + ` FROM attachments WHERE _id = ?`
	row := r.db.QueryRowContext(ctx, query, rowID)

	a, err := scanAttachment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query attachment: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) GetByMessage(ctx context.Context, messageID int64) ([]*models.Attachment, error) {
	query := `SELECT ` + projection + ` FROM attachments WHERE message_id = ? AND quote = 0 ORDER BY _id`
	rows, err := r.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments: %w", err)
	}
	defer rows.Close()

	return collectAttachments(rows)
}

func (r *SQLiteRepository) GetPending(ctx context.Context) ([]*models.Attachment, error) {
	query := `SELECT ` + projection + ` FROM attachments WHERE transfer_state = ? ORDER BY _id`
	rows, err := r.db.QueryContext(ctx, query, models.TransferStarted)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending attachments: %w", err)
	}
	defer rows.Close()

	return collectAttachments(rows)
}

func (r *SQLiteRepository) DataInfo(ctx context.Context, id models.AttachmentID, which Column) (*models.DataInfo, error) {
	pathColumn, randomColumn, err := partColumns(which)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + pathColumn + `, data_size, ` + randomColumn + ` FROM attachments WHERE ` + partIDWhere
	row := r.db.QueryRowContext(ctx, query, id.RowID, id.UniqueID)

	var info models.DataInfo
	err = row.Scan(&info.Path, &info.Length, &info.Random)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query part info: %w", err)
	}
	if info.Path == "" {
		return nil, nil
	}
	return &info, nil
}

func (r *SQLiteRepository) UpdateTransferState(ctx context.Context, id models.AttachmentID, state models.TransferState) error {
	query := `UPDATE attachments SET transfer_state = ? WHERE ` + partIDWhere
	if _, err := r.db.ExecContext(ctx, query, state, id.RowID, id.UniqueID); err != nil {
		return fmt.Errorf("failed to update transfer state: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateUploaded(ctx context.Context, id models.AttachmentID, size int64, location, disposition, url string, digest []byte) error {
	query := `UPDATE attachments SET transfer_state = ?, data_size = ?,
		content_location = ?, content_disposition = ?, url = ?, digest = ?
		WHERE ` + partIDWhere
	_, err := r.db.ExecContext(ctx, query,
		models.TransferDone, size, location, disposition, url, digest, id.RowID, id.UniqueID)
	if err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateData(ctx context.Context, id models.AttachmentID, info models.DataInfo, contentType string, width, height int) error {
	query := `UPDATE attachments SET data_path = ?, data_random = ?, data_size = ?,
		content_type = ?, width = ?, height = ?
		WHERE ` + partIDWhere
	_, err := r.db.ExecContext(ctx, query,
		info.Path, info.Random, info.Length, contentType, width, height, id.RowID, id.UniqueID)
	if err != nil {
		return fmt.Errorf("failed to update attachment data: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateThumbnail(ctx context.Context, id models.AttachmentID, info models.DataInfo, aspectRatio float64) error {
	query := `UPDATE attachments SET thumbnail_path = ?, thumbnail_random = ?, thumbnail_aspect_ratio = ?
		WHERE ` + partIDWhere
	_, err := r.db.ExecContext(ctx, query,
		info.Path, info.Random, aspectRatio, id.RowID, id.UniqueID)
	if err != nil {
		return fmt.Errorf("failed to update thumbnail: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) FillPlaceholder(ctx context.Context, id models.AttachmentID, which Column, info models.DataInfo) error {
	var query string
	var args []any
	switch which {
	case ColumnData:
		query = `UPDATE attachments SET data_path = ?, data_random = ?, data_size = ?,
			transfer_state = ?, content_location = '', content_disposition = '', digest = NULL, url = ''
			WHERE ` + partIDWhere
		args = []any{info.Path, info.Random, info.Length, models.TransferDone, id.RowID, id.UniqueID}
	case ColumnThumbnail:
		query = `UPDATE attachments SET thumbnail_path = ?, thumbnail_random = ?,
			transfer_state = ?, content_location = '', content_disposition = '', digest = NULL, url = ''
			WHERE ` + partIDWhere
		args = []any{info.Path, info.Random, models.TransferDone, id.RowID, id.UniqueID}
	default:
		return fmt.Errorf("unknown part column: %s", which)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to fill placeholder: %w", err)
	}

	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) PathsByID(ctx context.Context, id models.AttachmentID) (*PartPaths, error) {
	query := `SELECT _id, unique_id, data_path, thumbnail_path, content_type FROM attachments WHERE ` + partIDWhere
	row := r.db.QueryRowContext(ctx, query, id.RowID, id.UniqueID)

	var p PartPaths
	err := row.Scan(&p.ID.RowID, &p.ID.UniqueID, &p.DataPath, &p.ThumbnailPath, &p.ContentType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query part paths: %w", err)
	}
	return &p, nil
}

func (r *SQLiteRepository) PathsByMessage(ctx context.Context, messageIDs ...int64) ([]PartPaths, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	query := `SELECT _id, unique_id, data_path, thumbnail_path, content_type FROM attachments WHERE message_id IN (` +
		placeholders(len(messageIDs)) + `)`
	rows, err := r.db.QueryContext(ctx, query, int64Args(messageIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to select part paths: %w", err)
	}
	defer rows.Close()

	var result []PartPaths
	for rows.Next() {
		var p PartPaths
		if err := rows.Scan(&p.ID.RowID, &p.ID.UniqueID, &p.DataPath, &p.ThumbnailPath, &p.ContentType); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) DeleteByID(ctx context.Context, id models.AttachmentID) error {
	query := `DELETE FROM attachments WHERE ` + partIDWhere
	if _, err := r.db.ExecContext(ctx, query, id.RowID, id.UniqueID); err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByMessage(ctx context.Context, messageIDs ...int64) error {
	if len(messageIDs) == 0 {
		return nil
	}

	query := `DELETE FROM attachments WHERE message_id IN (` + placeholders(len(messageIDs)) + `)`
	if _, err := r.db.ExecContext(ctx, query, int64Args(messageIDs)...); err != nil {
		return fmt.Errorf("failed to delete attachments: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM attachments`); err != nil {
		return fmt.Errorf("failed to delete all attachments: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) AudioExtras(ctx context.Context, id models.AttachmentID) (*models.AudioExtras, error) {
	// all extras columns must be present or the whole record is rejected
	query := `SELECT audio_visual_samples, audio_duration_ms FROM attachments
		WHERE ` + partIDWhere + `
		AND audio_visual_samples IS NOT NULL
		AND audio_duration_ms > 0
		AND content_type LIKE 'audio/%'`
	row := r.db.QueryRowContext(ctx, query, id.RowID, id.UniqueID)

	extras := models.AudioExtras{ID: id}
	err := row.Scan(&extras.VisualSamples, &extras.DurationMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query audio extras: %w", err)
	}
	return &extras, nil
}

func (r *SQLiteRepository) SetAudioExtras(ctx context.Context, extras models.AudioExtras) (bool, error) {
	query := `UPDATE attachments SET audio_visual_samples = ?, audio_duration_ms = ?
		WHERE ` + partIDWhere + ` AND content_type LIKE 'audio/%'`
	res, err := r.db.ExecContext(ctx, query,
		extras.VisualSamples, extras.DurationMs, extras.ID.RowID, extras.ID.UniqueID)
	if err != nil {
		return false, fmt.Errorf("failed to update audio extras: %w", err)
	}

	ra, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return ra > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttachment(row rowScanner) (*models.Attachment, error) {
	a := &models.Attachment{}
	err := row.Scan(
		&a.ID.RowID, &a.ID.UniqueID, &a.MessageID, &a.ContentType, &a.TransferState,
		&a.DataPath, &a.DataRandom, &a.Size,
		&a.ThumbnailPath, &a.ThumbnailRandom, &a.ThumbnailAspectRatio,
		&a.Width, &a.Height, &a.VoiceNote, &a.Quote, &a.Sticker,
		&a.FileName, &a.Caption, &a.URL, &a.Digest, &a.Location, &a.Disposition)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func collectAttachments(rows *sql.Rows) ([]*models.Attachment, error) {
	var result []*models.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func partColumns(which Column) (pathColumn, randomColumn string, err error) {
	switch which {
	case ColumnData:
		return "data_path", "data_random", nil
	case ColumnThumbnail:
		return "thumbnail_path", "thumbnail_random", nil
	default:
		return "", "", fmt.Errorf("unknown part column: %s", which)
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
