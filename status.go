package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cardsync/cardsync/internal/corpus"
)

// newStatusCmd prints the corpus's current metadata without touching a
// peer — mod/scm/usn and the dirty-row counts a sync would send.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local corpus metadata and pending change counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			store, err := corpus.Open(cmd.Context(), cc.Cfg.Sync.CorpusPath, cc.Logger)
			if err != nil {
				return fmt.Errorf("opening corpus: %w", err)
			}
			defer store.Close()

			ctx := cmd.Context()

			meta, err := store.GetMeta(ctx)
			if err != nil {
				return fmt.Errorf("reading corpus meta: %w", err)
			}

			dirtyCards, err := store.CountCardsDirty(ctx)
			if err != nil {
				return err
			}

			dirtyFacts, err := store.CountFactsDirty(ctx)
			if err != nil {
				return err
			}

			dirtyRevlog, err := store.CountRevlogDirty(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("corpus:     %s\n", cc.Cfg.Sync.CorpusPath)
			fmt.Printf("mod:        %d\n", meta.Mod)
			fmt.Printf("scm:        %d\n", meta.Scm)
			fmt.Printf("usn:        %d\n", meta.Usn)
			fmt.Printf("pending:    %s cards, %s facts, %s revlog entries\n",
				humanize.Comma(dirtyCards), humanize.Comma(dirtyFacts), humanize.Comma(dirtyRevlog))

			return nil
		},
	}
}
