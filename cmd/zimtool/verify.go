package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/xiaohe-53/zim/pkg/zim"
)

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Check an archive's MD5 trailer",
		ArgsUsage: "<archive.zim>",
		Action: func(cctx *cli.Context) error {
			if cctx.NArg() != 1 {
				return fmt.Errorf("expected exactly one archive path")
			}
			a, err := zim.OpenArchive(cctx.Args().First())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.VerifyChecksum(); err != nil {
				return err
			}
			fmt.Println("checksum ok")
			return nil
		},
	}
}
