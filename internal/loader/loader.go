// Package loader implements the netstore loader design note (spec.md
// §4.9): fetching a named resource (an agent image, a scheduler plugin,
// a configuration bundle) from an HTTP netstore and announcing it to one
// agent of a base station.
//
// Grounded on pkg/orchestrator/orchestrator.go's ProcessWithRetry: the
// same exponential-backoff retry wraps the fetch (the push is a single
// send with no retry), and every operation carries a correlation ID
// through to its log lines. The
// original's fetch callback writes straight into a shared transfer
// buffer; here each transfer gets its own accumulator so concurrent
// fetches for different agents cannot clobber one another.
package loader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/flexran/rtc/internal/core"
	"github.com/flexran/rtc/internal/ctlerr"
	"github.com/flexran/rtc/internal/protocol"
)

// Config parameterizes the loader's retry behavior.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	HTTPClient      *http.Client
}

// Loader fetches named resources from a netstore and pushes them to
// agents as AgentReconfiguration payloads.
type Loader struct {
	cfg  Config
	reqm *core.RequestsManager
	log  *slog.Logger
}

// New builds a Loader, filling in the same backoff defaults
// ProcessWithRetry uses (500ms initial, 10s max interval, 1 minute max
// elapsed, 2.0 multiplier).
func New(cfg Config, reqm *core.RequestsManager, log *slog.Logger) *Loader {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	if cfg.MaxElapsedTime <= 0 {
		cfg.MaxElapsedTime = time.Minute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loader{cfg: cfg, reqm: reqm, log: log}
}

func (l *Loader) backoffPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.InitialInterval
	b.MaxInterval = l.cfg.MaxInterval
	b.MaxElapsedTime = l.cfg.MaxElapsedTime
	b.Multiplier = 2.0
	return backoff.WithContext(b, ctx)
}

// Fetch retrieves the bytes at url, retrying transient failures with
// exponential backoff. Each call gets its own accumulator, so concurrent
// fetches never share a buffer.
func (l *Loader) Fetch(ctx context.Context, url string) ([]byte, error) {
	correlationID := uuid.NewString()
	var body []byte

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := l.cfg.HTTPClient.Do(req)
		if err != nil {
			l.log.Warn("netstore fetch attempt failed", "url", url, "correlation_id", correlationID, "error", err)
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("netstore returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("netstore returned %d", resp.StatusCode))
		}
		accumulator := make([]byte, 0, 64<<10)
		buf := make([]byte, 32<<10)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				accumulator = append(accumulator, buf[:n]...)
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return rerr
			}
		}
		body = accumulator
		return nil
	}

	if err := backoff.Retry(op, l.backoffPolicy(ctx)); err != nil {
		return nil, ctlerr.Wrap(ctlerr.KindTimeout, "loader", "fetch failed after retries", correlationID, err)
	}
	l.log.Info("netstore fetch succeeded", "url", url, "bytes", len(body), "correlation_id", correlationID)
	return body, nil
}

// PushToBS sends one AgentReconfiguration to one agent of bsID (any
// agent, chosen by RequestsManager.SendToBS). Its policy string names the
// kind, the name and the payload length; the payload bytes themselves
// are not carried in the message.
func (l *Loader) PushToBS(bsID uint64, name, kind string, payload []byte) error {
	correlationID := uuid.NewString()
	msg := &protocol.AgentReconfiguration{
		Txn:    correlationID,
		Policy: fmt.Sprintf("netstore_push:%s:%s:%d_bytes", kind, name, len(payload)),
	}
	if err := l.reqm.SendToBS(bsID, msg); err != nil {
		return ctlerr.Wrap(ctlerr.KindBackpressure, "loader", "failed to push netstore resource", correlationID, err)
	}
	l.log.Info("pushed netstore resource", "bs_id", bsID, "name", name, "kind", kind, "bytes", len(payload), "correlation_id", correlationID)
	return nil
}
