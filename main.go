package main

import (
	"errors"
	"os"

	"github.com/cardsync/cardsync/internal/syncproto"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, syncproto.ErrIntegrity) || errors.Is(err, syncproto.ErrSanityMismatch) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
