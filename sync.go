package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/cardsync/cardsync/internal/corpus"
	"github.com/cardsync/cardsync/internal/syncengine"
	"github.com/cardsync/cardsync/internal/syncproto"
	"github.com/cardsync/cardsync/internal/transport"
)

var flagServer string

// newSyncCmd drives a sync session against a remote server, playing the
// client role throughout (§4.1 Run).
func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the local corpus against a remote server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if flagServer == "" {
				return fmt.Errorf("sync: --server is required")
			}

			store, err := corpus.Open(cmd.Context(), cc.Cfg.Sync.CorpusPath, cc.Logger)
			if err != nil {
				return fmt.Errorf("opening corpus: %w", err)
			}
			defer store.Close()

			session := syncengine.NewSession(syncproto.RoleClient, store, cc.Logger, "", cc.Cfg.Sync.ChunkSize)
			client := transport.NewClient(flagServer, defaultHTTPClient(), cc.Logger, session.ID)

			ctx := cmd.Context()

			ourMeta, err := session.Meta(ctx)
			if err != nil {
				return fmt.Errorf("reading local meta: %w", err)
			}

			interactive := isatty.IsTerminal(os.Stdout.Fd())
			if interactive {
				fmt.Fprintf(os.Stdout, "syncing %s against %s (session %s)...\n", cc.Cfg.Sync.CorpusPath, flagServer, session.ID)
			}

			outcome, err := session.Run(ctx, client, ourMeta)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			switch outcome {
			case syncproto.OutcomeNoChanges:
				fmt.Println("already up to date")
			case syncproto.OutcomeFullSync:
				fmt.Println("schema mismatch: a full resync is required")
			case syncproto.OutcomeSuccess:
				fmt.Println("sync complete")
			default:
				fmt.Printf("sync finished: %s\n", outcome)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&flagServer, "server", "", "sync server base URL (e.g. http://host:port)")

	return cmd
}
