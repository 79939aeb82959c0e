package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/mediavault/internal/cli"
	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/config"
	"github.com/dmitrijs2005/mediavault/internal/flagx"
)

func main() {
	cfg := config.LoadConfig()
	ctx := context.Background()

	passphrase, err := cli.GetPassphrase(log.Writer())
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer common.WipeByteArray(passphrase)

	app, err := cli.NewApp(ctx, cfg, passphrase)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	args := flagx.PositionalArgs(os.Args[1:], []string{"-d", "-l", "-c", "-config"})
	if err := app.Run(ctx, args); err != nil {
		log.Fatalf("%v", err)
	}
}
