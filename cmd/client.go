package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/blue-mimo/image-labelling/pkg/client"
	"github.com/blue-mimo/image-labelling/pkg/service/catalog"
	"github.com/blue-mimo/image-labelling/pkg/telemetry"
	"github.com/urfave/cli/v2"
)

var clientCmd = &cli.Command{
	Name:  "client",
	Usage: "call a running image labelling API and print the results",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "url",
			Aliases: []string{"u"},
			Value:   "http://localhost:9000",
			EnvVars: []string{"IMAGE_LABELLING_API_URL"},
			Usage:   "URL of the API.",
		},
		&cli.StringFlag{
			Name:    "token",
			Aliases: []string{"t"},
			EnvVars: []string{"IMAGE_LABELLING_TOKEN"},
			Usage:   "bearer token sent with every request.",
		},
	},
	Subcommands: []*cli.Command{
		{
			Name:  "images",
			Usage: "list images, optionally only those bearing every given label",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "page", Usage: "zero based page"},
				&cli.IntFlag{Name: "limit", Value: catalog.DefaultLimit, Usage: "images per page"},
				&cli.StringSliceFlag{Name: "filter", Aliases: []string{"f"}, Usage: "label the images must bear"},
			},
			Action: func(cCtx *cli.Context) error {
				c, err := newClient(cCtx)
				if err != nil {
					return err
				}
				res, err := c.Images(cCtx.Context, catalog.ListParams{
					Page:    cCtx.Int("page"),
					Limit:   cCtx.Int("limit"),
					Filters: cCtx.StringSlice("filter"),
				})
				if err != nil {
					return err
				}
				return printJSON(res)
			},
		},
		{
			Name:      "labels",
			ArgsUsage: "<image>",
			Usage:     "print the labels of an image",
			Action: func(cCtx *cli.Context) error {
				c, err := newClient(cCtx)
				if err != nil {
					return err
				}
				res, err := c.Labels(cCtx.Context, cCtx.Args().First())
				if err != nil {
					return err
				}
				return printJSON(res)
			},
		},
		{
			Name:      "suggest",
			ArgsUsage: "<prefix>",
			Usage:     "print label suggestions for a prefix",
			Action: func(cCtx *cli.Context) error {
				c, err := newClient(cCtx)
				if err != nil {
					return err
				}
				res, err := c.Suggest(cCtx.Context, cCtx.Args().First())
				if err != nil {
					return err
				}
				return printJSON(res)
			},
		},
		{
			Name:      "upload",
			ArgsUsage: "<file>",
			Usage:     "upload an image file",
			Action: func(cCtx *cli.Context) error {
				c, err := newClient(cCtx)
				if err != nil {
					return err
				}
				path := cCtx.Args().First()
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("opening image: %w", err)
				}
				defer f.Close()
				res, err := c.Upload(cCtx.Context, filepath.Base(path), f)
				if err != nil {
					return err
				}
				return printJSON(res)
			},
		},
		{
			Name:      "download",
			ArgsUsage: "<image> <file>",
			Usage:     "download an image, scaled down to fit the bounds",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "maxwidth", Usage: "maximum width in pixels"},
				&cli.IntFlag{Name: "maxheight", Usage: "maximum height in pixels"},
			},
			Action: func(cCtx *cli.Context) error {
				c, err := newClient(cCtx)
				if err != nil {
					return err
				}
				if cCtx.NArg() != 2 {
					return fmt.Errorf("expected an image name and an output file")
				}
				img, err := c.Image(cCtx.Context, cCtx.Args().Get(0), cCtx.Int("maxwidth"), cCtx.Int("maxheight"))
				if err != nil {
					return err
				}
				return os.WriteFile(cCtx.Args().Get(1), img.Data, 0o644)
			},
		},
		{
			Name:      "delete",
			ArgsUsage: "<image>",
			Usage:     "delete an image and its labels",
			Action: func(cCtx *cli.Context) error {
				c, err := newClient(cCtx)
				if err != nil {
					return err
				}
				res, err := c.Delete(cCtx.Context, cCtx.Args().First())
				if err != nil {
					return err
				}
				return printJSON(res)
			},
		},
	},
}

func newClient(cCtx *cli.Context) (*client.Client, error) {
	serviceURL, err := url.Parse(cCtx.String("url"))
	if err != nil {
		return nil, fmt.Errorf("parsing service URL: %w", err)
	}
	return client.New(*serviceURL,
		client.WithToken(cCtx.String("token")),
		client.WithHTTPClient(telemetry.GetInstrumentedHTTPClient()),
	), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
