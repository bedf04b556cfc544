package main

import (
	"errors"
	"io/fs"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var log = logging.Logger("cmd")

func main() {
	logging.SetLogLevel("*", "info")

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warnf("loading .env file: %s", err)
	}

	app := &cli.App{
		Name:  "image-labelling",
		Usage: "Run and manage the image labelling service.",
		Commands: []*cli.Command{
			serverCmd,
			suggestionsCmd,
			countsCmd,
			reindexCmd,
			workerCmd,
			clientCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
