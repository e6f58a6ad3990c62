package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cardsync/cardsync/internal/syncproto"
)

// Retry policy: base 1s, factor 2x, max 30s, +/-25% jitter, max 5 retries —
// same shape as the teacher's graph.Client, tuned down for a same-datacenter
// sync peer rather than a public API.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "cardsync/0.1"
)

// Client drives the sync protocol against a remote Handler over HTTP,
// playing syncengine.Peer. It owns retry-with-backoff and status-code
// classification, mirroring the teacher's graph.Client shape.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	sleepFunc  func(ctx context.Context, d time.Duration) error
	sessionID  string
}

// NewClient creates a Client targeting baseURL (e.g. "http://host:port").
// sessionID is stamped on the SessionHeader of every request so the server
// can bind this Client's whole five-step exchange to one server-side
// Session; an empty sessionID is minted with uuid.NewString().
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, sessionID string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger, sleepFunc: timeSleep, sessionID: sessionID}
}

func (c *Client) Meta(ctx context.Context) (syncproto.MetaResult, error) {
	var out syncproto.MetaResult

	err := c.postJSON(ctx, "/meta", nil, &out)

	return out, err
}

func (c *Client) ApplyChanges(ctx context.Context, minUsn int32, lnewer bool, cs *syncproto.ChangeSet) (*syncproto.ChangeSet, error) {
	req := changesRequest{MinUsn: minUsn, LNewer: lnewer, Set: cs}

	var out syncproto.ChangeSet
	if err := c.postJSON(ctx, "/applyChanges", req, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func (c *Client) Chunk(ctx context.Context) (*syncproto.Chunk, error) {
	var out syncproto.Chunk
	if err := c.postJSON(ctx, "/chunk", nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func (c *Client) ApplyChunk(ctx context.Context, chunk *syncproto.Chunk) error {
	return c.postJSON(ctx, "/applyChunk", chunk, nil)
}

func (c *Client) SanityCheck(ctx context.Context) (syncproto.SanityVector, error) {
	var out syncproto.SanityVector

	err := c.postJSON(ctx, "/sanityCheck", nil, &out)

	return out, err
}

func (c *Client) Finish(ctx context.Context, mod int64) (int64, error) {
	var out finishResponse

	if err := c.postJSON(ctx, "/finish", finishRequest{Mod: mod}, &out); err != nil {
		return 0, err
	}

	return out.Mod, nil
}

// postJSON sends req (if non-nil) as a JSON body and decodes the response
// into out (if non-nil), with retry-with-backoff on transient failures.
func (c *Client) postJSON(ctx context.Context, path string, req, out any) error {
	var payload []byte

	if req != nil {
		var err error

		payload, err = json.Marshal(req)
		if err != nil {
			return fmt.Errorf("transport: encode request: %w", err)
		}
	}

	resp, err := c.doRetry(ctx, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("transport: decode response from %s: %w", path, err)
	}

	return nil
}

func (c *Client) doRetry(ctx context.Context, path string, payload []byte) (*http.Response, error) {
	url := c.baseURL + path

	var attempt int

	for {
		resp, err := c.doOnce(ctx, url, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s canceled: %w", syncproto.ErrTransport, path, ctx.Err())
			}

			if attempt < maxRetries {
				if sleepErr := c.backoffAndLog(ctx, path, attempt, err); sleepErr != nil {
					return nil, sleepErr
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("%w: %s failed after %d retries: %w", syncproto.ErrTransport, path, maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			if sleepErr := c.backoffAndLog(ctx, path, attempt, fmt.Errorf("status %d", resp.StatusCode)); sleepErr != nil {
				return nil, sleepErr
			}

			attempt++

			continue
		}

		return nil, c.terminalError(path, resp.StatusCode, body)
	}
}

func (c *Client) doOnce(ctx context.Context, url string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(SessionHeader, c.sessionID)

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) backoffAndLog(ctx context.Context, path string, attempt int, cause error) error {
	backoff := calcBackoff(attempt)

	c.logger.Warn("retrying sync request",
		slog.String("path", path),
		slog.Int("attempt", attempt+1),
		slog.Duration("backoff", backoff),
		slog.String("error", cause.Error()),
	)

	if err := c.sleepFunc(ctx, backoff); err != nil {
		return fmt.Errorf("%w: %s canceled: %w", syncproto.ErrTransport, path, err)
	}

	return nil
}

func (c *Client) terminalError(path string, status int, body []byte) error {
	sentinel := syncproto.ErrTransport
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		sentinel = syncproto.ErrAuth
	}

	c.logger.Error("sync request failed",
		slog.String("path", path),
		slog.Int("status", status),
		slog.String("body", string(body)),
	)

	return &syncproto.SyncError{Step: path, Err: fmt.Errorf("%w: HTTP %d: %s", sentinel, status, string(body))}
}

func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
