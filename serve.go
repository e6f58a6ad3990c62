package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardsync/cardsync/internal/corpus"
	"github.com/cardsync/cardsync/internal/syncengine"
	"github.com/cardsync/cardsync/internal/syncproto"
	"github.com/cardsync/cardsync/internal/transport"
)

const shutdownTimeout = 10 * time.Second

// serverSession pairs a server-side Session with the resources that must
// outlive it for the length of one client's five-step exchange: its own
// Store handle (so its write transaction is isolated from any other
// concurrent session against the same corpus) and the release func for
// the corpus-wide lock acquired when the session was created.
type serverSession struct {
	session *syncengine.Session
	store   *corpus.Store
	release func()
}

// sessionRegistry hands out one serverSession per client-minted session
// id, opening a fresh Store and acquiring the corpus lock on first touch
// and tearing both down once the client reaches /finish. This is what
// makes two concurrent `sync` clients against the same serve process
// independent instead of corrupting one shared Session's params/cursor
// fields.
type sessionRegistry struct {
	mu         sync.Mutex
	sessions   map[string]*serverSession
	locks      *syncengine.CorpusLocks
	corpusPath string
	logger     *slog.Logger
	chunkSize  int
}

func newSessionRegistry(corpusPath string, chunkSize int, logger *slog.Logger) *sessionRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	return &sessionRegistry{
		sessions:   make(map[string]*serverSession),
		locks:      syncengine.NewCorpusLocks(),
		corpusPath: corpusPath,
		logger:     logger,
		chunkSize:  chunkSize,
	}
}

// acquire returns the serverSession for id, creating it — and blocking on
// the corpus lock for the whole exchange that follows, not just this
// call — the first time id is seen.
func (r *sessionRegistry) acquire(ctx context.Context, id string) (*serverSession, error) {
	r.mu.Lock()
	existing, ok := r.sessions[id]
	r.mu.Unlock()

	if ok {
		return existing, nil
	}

	release, err := r.locks.Lock(ctx, r.corpusPath)
	if err != nil {
		return nil, fmt.Errorf("corpus busy: %w", err)
	}

	store, err := corpus.Open(ctx, r.corpusPath, r.logger)
	if err != nil {
		release()
		return nil, fmt.Errorf("opening corpus: %w", err)
	}

	sess := &serverSession{
		session: syncengine.NewSession(syncproto.RoleServer, store, r.logger, id, r.chunkSize),
		store:   store,
		release: release,
	}

	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		store.Close()
		release()

		return existing, nil
	}

	r.sessions[id] = sess
	r.mu.Unlock()

	return sess, nil
}

// finish tears down the session's corpus handle and releases its corpus
// lock. Called once the client reaches /finish, successfully or not —
// an abandoned session must not hold the corpus lock indefinitely.
func (r *sessionRegistry) finish(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	if err := sess.store.Close(); err != nil {
		r.logger.Warn("closing session corpus handle", slog.String("session_id", id), slog.Any("error", err))
	}

	sess.release()
}

// newServeCmd runs the reference HTTP server for the sync protocol. Each
// client session (identified by transport.SessionHeader) gets its own
// Session and Store, and holds the corpus's lock for the full five-step
// exchange rather than re-acquiring it per HTTP call (§5 "a per-corpus
// mutex held for the session's duration").
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the local corpus over the sync protocol",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			registry := newSessionRegistry(cc.Cfg.Sync.CorpusPath, cc.Cfg.Sync.ChunkSize, cc.Logger)

			factory := func(r *http.Request) (*syncengine.Session, error) {
				id := r.Header.Get(transport.SessionHeader)
				if id == "" {
					return nil, fmt.Errorf("missing %s header", transport.SessionHeader)
				}

				sess, err := registry.acquire(r.Context(), id)
				if err != nil {
					return nil, err
				}

				return sess.session, nil
			}

			inner := transport.NewHandler(factory, cc.Logger)

			serialized := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				inner.ServeHTTP(w, r)

				if r.URL.Path == "/finish" {
					registry.finish(r.Header.Get(transport.SessionHeader))
				}
			})

			addr := cc.Cfg.Server.Addr()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", addr, err)
			}

			server := &http.Server{Addr: addr, Handler: serialized}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cc.Logger.Info("serving corpus", slog.String("addr", addr), slog.String("corpus", cc.Cfg.Sync.CorpusPath))

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Serve(ln)
			}()

			select {
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return fmt.Errorf("serving: %w", err)
				}

				return nil
			case <-ctx.Done():
				cc.Logger.Info("shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				return server.Shutdown(shutdownCtx)
			}
		},
	}
}
