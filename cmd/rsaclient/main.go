package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("rsaclient failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
