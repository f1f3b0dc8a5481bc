package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/xiaohe-53/zim/pkg/zim"
)

func createCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Build a ZIM archive from a directory tree",
		ArgsUsage: "<directory>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"o"},
				Usage:    "output archive path",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "compression",
				Usage: "cluster compression: none, lzma or zstd",
				Value: "zstd",
			},
			&cli.Uint64Flag{
				Name:  "cluster-size",
				Usage: "target cluster size in KiB",
				Value: zim.DefaultMinClusterSize,
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "number of compression workers",
				Value: zim.DefaultWorkers,
			},
			&cli.StringFlag{
				Name:  "main-page",
				Usage: "path of the entry to designate as main page",
			},
			&cli.StringFlag{
				Name:  "title",
				Usage: "archive title metadata",
			},
			&cli.StringFlag{
				Name:  "language",
				Usage: "archive language metadata (ISO-639)",
				Value: "eng",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log progress while building",
			},
		},
		Action: runCreate,
	}
}

func runCreate(cctx *cli.Context) error {
	if cctx.NArg() != 1 {
		return fmt.Errorf("expected exactly one source directory")
	}
	root := cctx.Args().First()
	logger := slog.Default().With("component", "zimtool")

	compression, err := parseCompression(cctx.String("compression"))
	if err != nil {
		return err
	}

	creator, err := zim.NewCreator(
		zim.WithCompression(compression),
		zim.WithMinClusterSize(cctx.Uint64("cluster-size")),
		zim.WithWorkers(cctx.Int("workers")),
		zim.WithVerbose(cctx.Bool("verbose")),
		zim.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if err := creator.Start(cctx.String("output")); err != nil {
		return err
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning %s: %w", root, err)
	}

	// Item preparation (entry path and extension-based mime type) fans
	// out; AddItem, which also stats each file, stays on this goroutine,
	// as the Creator requires a single producer.
	items := make(chan *zim.FileItem, 64)
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	go func() {
		for _, path := range paths {
			g.Go(func() error {
				rel, err := filepath.Rel(root, path)
				if err != nil {
					return err
				}
				entryPath := filepath.ToSlash(rel)
				mimeType := mime.TypeByExtension(filepath.Ext(path))
				if i := strings.Index(mimeType, ";"); i >= 0 {
					mimeType = strings.TrimSpace(mimeType[:i])
				}
				if mimeType == "" {
					mimeType = "application/octet-stream"
				}
				items <- zim.NewFileItem(entryPath, mimeType, "", path)
				return nil
			})
		}
		g.Wait()
		close(items)
	}()

	added := 0
	for item := range items {
		if err := creator.AddItem(item); err != nil {
			return err
		}
		added++
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if title := cctx.String("title"); title != "" {
		if err := creator.AddMetadata("Title", []byte(title), "text/plain"); err != nil {
			return err
		}
	}
	if err := creator.AddMetadata("Language", []byte(cctx.String("language")), "text/plain"); err != nil {
		return err
	}
	if mainPage := cctx.String("main-page"); mainPage != "" {
		creator.SetMainPath(mainPage)
	}

	if err := creator.Finish(); err != nil {
		return err
	}
	logger.Info("archive created", "output", cctx.String("output"), "entries", added)
	return nil
}

func parseCompression(name string) (zim.Compression, error) {
	switch strings.ToLower(name) {
	case "none":
		return zim.CompressionNone, nil
	case "lzma":
		return zim.CompressionLzma, nil
	case "zstd":
		return zim.CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}
