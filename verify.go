package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cardsync/cardsync/internal/corpus"
	"github.com/cardsync/cardsync/internal/syncengine"
)

// newVerifyCmd runs the sanity checker standalone, without a peer, useful
// for diagnosing a corpus suspected of corruption between sync runs.
func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check corpus integrity and print the sanity vector",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			store, err := corpus.Open(cmd.Context(), cc.Cfg.Sync.CorpusPath, cc.Logger)
			if err != nil {
				return fmt.Errorf("opening corpus: %w", err)
			}
			defer store.Close()

			checker := syncengine.NewSanityChecker(store, cc.Logger)

			v, err := checker.Check(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("cards:          %s\n", humanize.Comma(v.Cards))
			fmt.Printf("facts:          %s\n", humanize.Comma(v.Facts))
			fmt.Printf("revlog:         %s\n", humanize.Comma(v.Revlog))
			fmt.Printf("field sum:      %s\n", humanize.Comma(v.FieldSum))
			fmt.Printf("graves:         %s\n", humanize.Comma(v.Graves))
			fmt.Printf("models:         %s\n", humanize.Comma(v.Models))
			fmt.Printf("tags:           %s\n", humanize.Comma(v.Tags))
			fmt.Printf("groups:         %s\n", humanize.Comma(v.Groups))
			fmt.Printf("group configs:  %s\n", humanize.Comma(v.GroupConfigs))

			return nil
		},
	}
}
