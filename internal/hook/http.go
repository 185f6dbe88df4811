package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"

	"github.com/mpataki/pipestatus/internal/models"
)

type statusError struct {
	code int
}

func (e statusError) Error() string {
	return "hook responded " + http.StatusText(e.code)
}

func (d *Dispatcher) post(ctx context.Context, url string, payload models.Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to encode payload")
	}

	return retry.Do(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
			return retry.Unrecoverable(statusError{resp.StatusCode})
		default:
			return statusError{resp.StatusCode}
		}
	},
		retry.Attempts(d.cfg.Attempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(d.cfg.Delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			d.logger.Debug("retrying hook", "url", url, "attempt", n+1, "err", err)
		}),
		retry.Context(ctx),
	)
}
