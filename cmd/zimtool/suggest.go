package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/xiaohe-53/zim/pkg/zim"
)

func suggestCommand() *cli.Command {
	return &cli.Command{
		Name:      "suggest",
		Usage:     "Query the title index for suggestions",
		ArgsUsage: "<archive.zim> <query>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "maximum number of results",
				Value: 10,
			},
		},
		Action: func(cctx *cli.Context) error {
			if cctx.NArg() != 2 {
				return fmt.Errorf("expected an archive path and a query")
			}
			a, err := zim.OpenArchive(cctx.Args().Get(0))
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := zim.NewSuggestionSearcher(a).Suggest(cctx.Args().Get(1), cctx.Int("limit"))
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s\t%s\n", e.Title(), e.FullPath())
			}
			return nil
		},
	}
}
