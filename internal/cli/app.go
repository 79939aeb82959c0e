// Package cli implements the MediaVault command line tool: it unlocks the
// store with a passphrase and exposes the attachment operations as
// subcommands.
package cli

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/config"
	"github.com/dmitrijs2005/mediavault/internal/keystore"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/prefs"
	"github.com/dmitrijs2005/mediavault/internal/secrets"
	"github.com/dmitrijs2005/mediavault/internal/services"
	"github.com/dmitrijs2005/mediavault/internal/storage"
)

const sealerSaltSize = 16

// App wires the configuration, the unlocked secret provider and the
// attachment service behind the command dispatcher.
type App struct {
	config  *config.Config
	log     logging.Logger
	db      *sql.DB
	service *services.AttachmentService
	out     io.Writer
}

// NewApp unlocks the store at cfg.DataDir using the given passphrase and
// returns a ready App. The caller must Close it.
func NewApp(ctx context.Context, cfg *config.Config, passphrase []byte) (*App, error) {
	log := newLogger(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	p, err := prefs.Open(cfg.PrefsPath())
	if err != nil {
		return nil, err
	}

	salt, err := sealerSalt(p)
	if err != nil {
		return nil, err
	}

	sealer, err := keystore.NewPassphraseSealer(passphrase, salt)
	if err != nil {
		return nil, err
	}

	provider := secrets.NewProvider(p, sealer, log)

	db, err := storage.InitDatabase(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	svc := services.NewAttachmentService(db, provider, cfg.PartsDir(), log)

	return &App{config: cfg, log: log, db: db, service: svc, out: os.Stdout}, nil
}

// Close stops the background workers and closes the database.
func (a *App) Close() {
	a.service.Close()
	_ = a.db.Close()
}

// newLogger builds the app logger: a rotating file when configured, stderr
// otherwise.
func newLogger(cfg *config.Config) logging.Logger {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		}
	}
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(w, nil)))
}

// sealerSalt loads the persistent passphrase-derivation salt, creating it on
// first run.
func sealerSalt(p *prefs.Prefs) ([]byte, error) {
	if encoded, ok := p.GetString(prefs.KeySealerSalt); ok {
		salt, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: sealer salt is not base64: %w", common.ErrorMalformedSecret, err)
		}
		return salt, nil
	}

	salt := common.GenerateRandByteArray(sealerSaltSize)
	if err := p.SetString(prefs.KeySealerSalt, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, err
	}
	return salt, nil
}

// Run dispatches a single subcommand. The supported commands are:
//
//	add <message-id> <file>   encrypt and store a file for a message
//	get <row-id> [out]        decrypt an attachment to a file or stdout
//	thumb <row-id> [out]      decrypt (or generate) the thumbnail
//	ls <message-id>           list a message's attachments
//	pending                   list attachments still mid-transfer
//	rm <row-id> <unique-id>   delete one attachment with its files
//	rm-message <message-id>   delete every attachment of a message
//	purge                     delete everything
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given")
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "add":
		return a.cmdAdd(ctx, rest)
	case "get":
		return a.cmdGet(ctx, rest)
	case "thumb":
		return a.cmdThumb(ctx, rest)
	case "ls":
		return a.cmdList(ctx, rest)
	case "pending":
		return a.cmdPending(ctx)
	case "rm":
		return a.cmdRemove(ctx, rest)
	case "rm-message":
		return a.cmdRemoveMessage(ctx, rest)
	case "purge":
		return a.cmdPurge(ctx)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}
