package attachments

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/models"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE attachments (
  _id INTEGER PRIMARY KEY AUTOINCREMENT,
  unique_id INTEGER NOT NULL,
  message_id INTEGER NOT NULL,
  content_type TEXT NOT NULL DEFAULT '',
  transfer_state INTEGER NOT NULL DEFAULT 0,
  data_path TEXT NOT NULL DEFAULT '',
  data_random BLOB,
  data_size INTEGER NOT NULL DEFAULT 0,
  thumbnail_path TEXT NOT NULL DEFAULT '',
  thumbnail_random BLOB,
  thumbnail_aspect_ratio REAL NOT NULL DEFAULT 0,
  width INTEGER NOT NULL DEFAULT 0,
  height INTEGER NOT NULL DEFAULT 0,
  voice_note INTEGER NOT NULL DEFAULT 0,
  quote INTEGER NOT NULL DEFAULT 0,
  sticker INTEGER NOT NULL DEFAULT 0,
  file_name TEXT NOT NULL DEFAULT '',
  caption TEXT NOT NULL DEFAULT '',
  url TEXT NOT NULL DEFAULT '',
  digest BLOB,
  content_location TEXT NOT NULL DEFAULT '',
  content_disposition TEXT NOT NULL DEFAULT '',
  audio_visual_samples BLOB,
  audio_duration_ms INTEGER NOT NULL DEFAULT 0
);
`)
	require.NoError(t, err)

	return db
}

func seedAttachment(t *testing.T, r *SQLiteRepository, a *models.Attachment) models.AttachmentID {
	t.Helper()
	rowID, err := r.Insert(context.Background(), a)
	require.NoError(t, err)
	return models.AttachmentID{RowID: rowID, UniqueID: a.ID.UniqueID}
}

func TestInsertAndGetByID(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	a := &models.Attachment{
		ID:            models.AttachmentID{UniqueID: 1700000000001},
		MessageID:     42,
		ContentType:   "image/jpeg",
		TransferState: models.TransferDone,
		DataPath:      "/parts/x.part",
		DataRandom:    []byte("rand-value"),
		Size:          1234,
		Width:         640,
		Height:        480,
		FileName:      "photo.jpg",
		Caption:       "hi",
		Digest:        []byte("digest"),
		Location:      "cdn/abc",
		Disposition:   "attachment",
	}

	id := seedAttachment(t, r, a)
	require.NotZero(t, id.RowID)

	got, err := r.GetByID(ctx, id.RowID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, int64(42), got.MessageID)
	assert.Equal(t, "image/jpeg", got.ContentType)
	assert.Equal(t, "/parts/x.part", got.DataPath)
	assert.Equal(t, []byte("rand-value"), got.DataRandom)
	assert.Equal(t, int64(1234), got.Size)
	assert.Equal(t, 640, got.Width)
	assert.Equal(t, "photo.jpg", got.FileName)
	assert.Equal(t, []byte("digest"), got.Digest)
	assert.Equal(t, "cdn/abc", got.Location)
}

func TestGetByID_Missing(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	got, err := r.GetByID(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetByMessage_ExcludesQuotes(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	seedAttachment(t, r, &models.Attachment{ID: models.AttachmentID{UniqueID: 1}, MessageID: 7, ContentType: "image/png"})
	seedAttachment(t, r, &models.Attachment{ID: models.AttachmentID{UniqueID: 2}, MessageID: 7, ContentType: "image/png", Quote: true})
	seedAttachment(t, r, &models.Attachment{ID: models.AttachmentID{UniqueID: 3}, MessageID: 8, ContentType: "image/png"})

	got, err := r.GetByMessage(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID.UniqueID)
	assert.False(t, got[0].Quote)
}

func TestGetPending(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	seedAttachment(t, r, &models.Attachment{ID: models.AttachmentID{UniqueID: 1}, MessageID: 1, TransferState: models.TransferDone})
	pending := seedAttachment(t, r, &models.Attachment{ID: models.AttachmentID{UniqueID: 2}, MessageID: 1, TransferState: models.TransferStarted})
	seedAttachment(t, r, &models.Attachment{ID: models.AttachmentID{UniqueID: 3}, MessageID: 2, TransferState: models.TransferFailed})

	got, err := r.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pending, got[0].ID)
}

func TestDataInfo(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	id := seedAttachment(t, r, &models.Attachment{
		ID:         models.AttachmentID{UniqueID: 10},
		MessageID:  1,
		DataPath:   "/parts/data.part",
		DataRandom: []byte("r1"),
		Size:       500,
	})

	info, err := r.DataInfo(ctx, id, ColumnData)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "/parts/data.part", info.Path)
	assert.Equal(t, int64(500), info.Length)
	assert.Equal(t, []byte("r1"), info.Random)

	// no thumbnail written yet
	info, err = r.DataInfo(ctx, id, ColumnThumbnail)
	require.NoError(t, err)
	assert.Nil(t, info)

	// wrong unique id misses
	info, err = r.DataInfo(ctx, models.AttachmentID{RowID: id.RowID, UniqueID: 999}, ColumnData)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestUpdateTransferState(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	id := seedAttachment(t, r, &models.Attachment{ID: models.AttachmentID{UniqueID: 1}, MessageID: 1, TransferState: models.TransferStarted})

	require.NoError(t, r.UpdateTransferState(ctx, id, models.TransferFailed))

	got, err := r.GetByID(ctx, id.RowID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferFailed, got.TransferState)
}

func TestUpdateUploaded(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	id := seedAttachment(t, r, &models.Attachment{ID: models.AttachmentID{UniqueID: 1}, MessageID: 1, TransferState: models.TransferStarted, Size: 100})

	require.NoError(t, r.UpdateUploaded(ctx, id, 2048, "cdn/loc", "inline", "https://example.org/p", []byte("dg")))

	got, err := r.GetByID(ctx, id.RowID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferDone, got.TransferState)
	assert.Equal(t, int64(2048), got.Size)
	assert.Equal(t, "cdn/loc", got.Location)
	assert.Equal(t, "inline", got.Disposition)
	assert.Equal(t, "https://example.org/p", got.URL)
	assert.Equal(t, []byte("dg"), got.Digest)
}

func TestUpdateDataAndThumbnail(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	id := seedAttachment(t, r, &models.Attachment{ID: models.AttachmentID{UniqueID: 1}, MessageID: 1, ContentType: "video/mp4"})

	require.NoError(t, r.UpdateData(ctx, id,
		models.DataInfo{Path: "/parts/new.part", Random: []byte("r2"), Length: 999}, "video/mp4", 1280, 720))
	require.NoError(t, r.UpdateThumbnail(ctx, id,
		models.DataInfo{Path: "/parts/thumb.part", Random: []byte("r3")}, 1.778))

	got, err := r.GetByID(ctx, id.RowID)
	require.NoError(t, err)
	assert.Equal(t, "/parts/new.part", got.DataPath)
	assert.Equal(t, int64(999), got.Size)
	assert.Equal(t, 1280, got.Width)
	assert.Equal(t, "/parts/thumb.part", got.ThumbnailPath)
	assert.Equal(t, []byte("r3"), got.ThumbnailRandom)
	assert.InDelta(t, 1.778, got.ThumbnailAspectRatio, 0.0001)
}

func TestFillPlaceholder(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	id := seedAttachment(t, r, &models.Attachment{
		ID:            models.AttachmentID{UniqueID: 1},
		MessageID:     1,
		TransferState: models.TransferStarted,
		Location:      "cdn/remote",
		Digest:        []byte("remote-digest"),
		URL:           "https://example.org/p",
	})

	require.NoError(t, r.FillPlaceholder(ctx, id, ColumnData,
		models.DataInfo{Path: "/parts/dl.part", Random: []byte("r"), Length: 321}))

	got, err := r.GetByID(ctx, id.RowID)
	require.NoError(t, err)
	assert.Equal(t, models.TransferDone, got.TransferState)
	assert.Equal(t, "/parts/dl.part", got.DataPath)
	assert.Equal(t, int64(321), got.Size)
	assert.Empty(t, got.Location)
	assert.Empty(t, got.URL)
	assert.Nil(t, got.Digest)
}

func TestFillPlaceholder_MissingRow(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	err := r.FillPlaceholder(context.Background(), models.AttachmentID{RowID: 5, UniqueID: 5}, ColumnData,
		models.DataInfo{Path: "/parts/dl.part"})
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestPathsByIDAndByMessage(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	id := seedAttachment(t, r, &models.Attachment{
		ID: models.AttachmentID{UniqueID: 1}, MessageID: 3,
		ContentType: "image/png", DataPath: "/parts/a.part", ThumbnailPath: "/parts/a.thumb",
	})
	seedAttachment(t, r, &models.Attachment{
		ID: models.AttachmentID{UniqueID: 2}, MessageID: 4,
		ContentType: "audio/aac", DataPath: "/parts/b.part",
	})

	p, err := r.PathsByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "/parts/a.part", p.DataPath)
	assert.Equal(t, "/parts/a.thumb", p.ThumbnailPath)
	assert.Equal(t, "image/png", p.ContentType)

	paths, err := r.PathsByMessage(ctx, 3, 4)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for _, got := range paths {
		assert.NotZero(t, got.ID.RowID)
		assert.NotZero(t, got.ID.UniqueID)
	}

	paths, err = r.PathsByMessage(ctx)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestDeleteByIDMessageAndAll(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	id1 := seedAttachment(t, r, &models.Attachment{ID: models.AttachmentID{UniqueID: 1}, MessageID: 1})
	seedAttachment(t, r, &models.Attachment{ID: models.AttachmentID{UniqueID: 2}, MessageID: 2})
	seedAttachment(t, r, &models.Attachment{ID: models.AttachmentID{UniqueID: 3}, MessageID: 3})

	require.NoError(t, r.DeleteByID(ctx, id1))
	got, err := r.GetByID(ctx, id1.RowID)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, r.DeleteByMessage(ctx, 2))
	got2, err := r.GetByMessage(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, got2)

	require.NoError(t, r.DeleteAll(ctx))
	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM attachments`).Scan(&count))
	assert.Zero(t, count)
}

func TestAudioExtras(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	audio := seedAttachment(t, r, &models.Attachment{ID: models.AttachmentID{UniqueID: 1}, MessageID: 1, ContentType: "audio/aac"})
	image := seedAttachment(t, r, &models.Attachment{ID: models.AttachmentID{UniqueID: 2}, MessageID: 1, ContentType: "image/png"})

	// unset columns mean no extras
	extras, err := r.AudioExtras(ctx, audio)
	require.NoError(t, err)
	assert.Nil(t, extras)

	altered, err := r.SetAudioExtras(ctx, models.AudioExtras{ID: audio, VisualSamples: []byte{1, 2, 3}, DurationMs: 4500})
	require.NoError(t, err)
	assert.True(t, altered)

	extras, err = r.AudioExtras(ctx, audio)
	require.NoError(t, err)
	require.NotNil(t, extras)
	assert.Equal(t, []byte{1, 2, 3}, extras.VisualSamples)
	assert.Equal(t, int64(4500), extras.DurationMs)

	// non-audio rows never take extras
	altered, err = r.SetAudioExtras(ctx, models.AudioExtras{ID: image, VisualSamples: []byte{9}, DurationMs: 100})
	require.NoError(t, err)
	assert.False(t, altered)
}
