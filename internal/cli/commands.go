package cli

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dmitrijs2005/mediavault/internal/models"
)

func (a *App) cmdAdd(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: add <message-id> <file>")
	}

	messageID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id: %w", err)
	}

	f, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer f.Close()

	ids, err := a.service.InsertAttachmentsForMessage(ctx, messageID, []*models.NewAttachment{{
		ContentType: contentTypeForFile(args[1]),
		Source:      f,
		FileName:    filepath.Base(args[1]),
	}})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "stored attachment %s\n", ids[0].String())
	return nil
}

func (a *App) cmdGet(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: get <row-id> [out]")
	}

	attachment, err := a.lookup(ctx, args[0])
	if err != nil {
		return err
	}

	r, err := a.service.AttachmentStream(ctx, attachment.ID, 0)
	if err != nil {
		return err
	}
	defer r.Close()

	return a.writeStream(r, args[1:])
}

func (a *App) cmdThumb(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: thumb <row-id> [out]")
	}

	attachment, err := a.lookup(ctx, args[0])
	if err != nil {
		return err
	}

	r, err := a.service.ThumbnailStream(ctx, attachment.ID)
	if err != nil {
		return err
	}
	defer r.Close()

	return a.writeStream(r, args[1:])
}

func (a *App) cmdList(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ls <message-id>")
	}

	messageID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id: %w", err)
	}

	items, err := a.service.GetAttachmentsForMessage(ctx, messageID)
	if err != nil {
		return err
	}

	a.printAttachments(items)
	return nil
}

func (a *App) cmdPending(ctx context.Context) error {
	items, err := a.service.GetPendingAttachments(ctx)
	if err != nil {
		return err
	}

	a.printAttachments(items)
	return nil
}

func (a *App) cmdRemove(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: rm <row-id> <unique-id>")
	}

	rowID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid row id: %w", err)
	}
	uniqueID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid unique id: %w", err)
	}

	return a.service.DeleteAttachment(ctx, models.AttachmentID{RowID: rowID, UniqueID: uniqueID})
}

func (a *App) cmdRemoveMessage(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rm-message <message-id>")
	}

	messageID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id: %w", err)
	}

	return a.service.DeleteAttachmentsForMessages(ctx, messageID)
}

func (a *App) cmdPurge(ctx context.Context) error {
	return a.service.DeleteAllAttachments(ctx)
}

func (a *App) lookup(ctx context.Context, rowIDArg string) (*models.Attachment, error) {
	rowID, err := strconv.ParseInt(rowIDArg, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid row id: %w", err)
	}

	attachment, err := a.service.GetAttachment(ctx, rowID)
	if err != nil {
		return nil, err
	}
	if attachment == nil {
		return nil, fmt.Errorf("attachment %d not found", rowID)
	}
	return attachment, nil
}

// writeStream copies the plaintext to the optional output path or stdout.
func (a *App) writeStream(r io.Reader, args []string) error {
	if len(args) == 0 {
		_, err := io.Copy(a.out, r)
		return err
	}

	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (a *App) printAttachments(items []*models.Attachment) {
	for _, item := range items {
		fmt.Fprintf(a.out, "%d\t%d\t%s\t%d bytes\tstate=%d\t%s\n",
			item.ID.RowID, item.ID.UniqueID, item.ContentType, item.Size, item.TransferState, item.FileName)
	}
}

func contentTypeForFile(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
