package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"

	"github.com/xiaohe-53/zim/pkg/zim"
)

type archiveInfo struct {
	Path     string            `json:"path"`
	UUID     string            `json:"uuid"`
	Entries  uint32            `json:"entries"`
	Clusters uint32            `json:"clusters"`
	MainPage string            `json:"main_page,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type entryInfo struct {
	Index    uint32 `json:"index"`
	Path     string `json:"path"`
	Title    string `json:"title,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
	Redirect bool   `json:"redirect,omitempty"`
	Size     uint64 `json:"size,omitempty"`
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Print archive structure and metadata",
		ArgsUsage: "<archive.zim>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "emit JSON instead of text",
			},
			&cli.BoolFlag{
				Name:  "entries",
				Usage: "also list every entry",
			},
		},
		Action: runInspect,
	}
}

func runInspect(cctx *cli.Context) error {
	if cctx.NArg() != 1 {
		return fmt.Errorf("expected exactly one archive path")
	}
	a, err := zim.OpenArchive(cctx.Args().First())
	if err != nil {
		return err
	}
	defer a.Close()

	info := archiveInfo{
		Path:     a.Filename(),
		UUID:     a.UUID().String(),
		Entries:  a.EntryCount(),
		Clusters: a.ClusterCount(),
		Metadata: map[string]string{},
	}
	if a.HasMainEntry() {
		if main, err := a.MainEntry(); err == nil {
			info.MainPage = main.FullPath()
		}
	}
	keys, err := a.MetadataKeys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		value, err := a.Metadata(key)
		if err != nil {
			return err
		}
		info.Metadata[key] = string(value)
	}

	var entries []entryInfo
	if cctx.Bool("entries") {
		it := a.IterByPath()
		for it.Next() {
			e := it.Entry()
			ei := entryInfo{
				Index:    e.Index(),
				Path:     e.FullPath(),
				Title:    e.Title(),
				Redirect: e.IsRedirect(),
			}
			if mimeType, err := e.MimeType(); err == nil {
				ei.MimeType = mimeType
			}
			if size, err := e.Size(); err == nil {
				ei.Size = size
			}
			entries = append(entries, ei)
		}
		if err := it.Err(); err != nil {
			return err
		}
	}

	if cctx.Bool("json") {
		out := struct {
			archiveInfo
			EntryList []entryInfo `json:"entry_list,omitempty"`
		}{info, entries}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("path:     %s\n", info.Path)
	fmt.Printf("uuid:     %s\n", info.UUID)
	fmt.Printf("entries:  %d\n", info.Entries)
	fmt.Printf("clusters: %d\n", info.Clusters)
	if info.MainPage != "" {
		fmt.Printf("main:     %s\n", info.MainPage)
	}
	for _, key := range keys {
		fmt.Printf("meta %-12s %s\n", key+":", info.Metadata[key])
	}
	for _, e := range entries {
		kind := e.MimeType
		if e.Redirect {
			kind = "-> redirect"
		}
		fmt.Printf("%6d  %-40s %s\n", e.Index, e.Path, kind)
	}
	return nil
}
