package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/xiaohe-53/zim/version"
)

func main() {
	app := &cli.App{
		Name:    "zimtool",
		Usage:   "Create, inspect and query ZIM archives",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "enable debug logging",
				EnvVars: []string{"DEBUG"},
			},
		},
		Before: func(cctx *cli.Context) error {
			level := slog.LevelInfo
			if cctx.Bool("debug") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
		Commands: []*cli.Command{
			createCommand(),
			inspectCommand(),
			verifyCommand(),
			suggestCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
