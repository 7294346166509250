package lambda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/fagongzi/log"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/infinivision/sluice/pkg/shuffle"
	jsoniter "github.com/json-iterator/go"
)

// Option remote lambda option
type Option func(*options)

type options struct {
	client      *http.Client
	maxAttempts int
}

func (opts *options) adjust() {
	if opts.client == nil {
		opts.client = &http.Client{
			Timeout: time.Second * 30,
		}
	}
}

// WithClient set the http client used for invocations
func WithClient(client *http.Client) Option {
	return func(opts *options) {
		opts.client = client
	}
}

// WithMaxAttempts bound the transient retries, 0 retries until the
// context is done
func WithMaxAttempts(value int) Option {
	return func(opts *options) {
		opts.maxAttempts = value
	}
}

// Remote invokes a lambda endpoint over HTTP POST. The request body
// is a JSON array of columns, [sources], or [sources, befores,
// afters] when registers are given. The response body is a JSON array
// with one array of output documents per source row, a 204 response
// stands for no output at all. Transport and 5xx failures retry with
// backoff, any other failure is returned to the caller.
type Remote struct {
	opts options
	url  string
}

// NewRemote returns a lambda of the endpoint url
func NewRemote(url string, opts ...Option) *Remote {
	r := &Remote{url: url}
	for _, opt := range opts {
		opt(&r.opts)
	}
	r.opts.adjust()

	return r
}

// Invoke invoke the remote lambda
func (r *Remote) Invoke(ctx context.Context, sources, befores, afters [][]byte) ([][]json.RawMessage, error) {
	body, err := encodeColumns(sources, befores, afters)
	if err != nil {
		return nil, err
	}

	// retried invocations of the same batch carry the same key
	idempotencyKey := fmt.Sprintf("%08x-%08x", shuffle.HashBytes(body), len(body))

	for attempt := 0; ; attempt++ {
		if wait := backoff(attempt); wait > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		rows, retry, err := r.post(ctx, body, idempotencyKey, len(sources))
		if err == nil {
			return rows, nil
		}
		if !retry {
			return nil, err
		}
		if r.opts.maxAttempts > 0 && attempt+1 >= r.opts.maxAttempts {
			return nil, err
		}

		log.Warnf("lambda: invoke %s attempt %d failed with %+v, retry later",
			r.url,
			attempt,
			err)
	}
}

func (r *Remote) post(ctx context.Context, body []byte, idempotencyKey string, rows int) ([][]json.RawMessage, bool, error) {
	req, err := http.NewRequest(http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := r.opts.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}

		return nil, true, err
	}
	defer resp.Body.Close()

	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return make([][]json.RawMessage, rows), false, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, true, fmt.Errorf("lambda %s status %d: %s", r.url, resp.StatusCode, data)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("lambda %s status %d: %s", r.url, resp.StatusCode, data)
	}

	var out [][]json.RawMessage
	if err := jsoniter.Unmarshal(data, &out); err != nil {
		return nil, false, fmt.Errorf("parse lambda %s response failed with %+v", r.url, err)
	}

	if len(out) < rows {
		return nil, false, meta.ErrTooFewRows
	}
	if len(out) > rows {
		return nil, false, meta.ErrTooManyRows
	}

	return out, false, nil
}

func encodeColumns(sources, befores, afters [][]byte) ([]byte, error) {
	columns := make([][]json.RawMessage, 0, 3)
	columns = append(columns, rawColumn(sources))
	if len(befores) > 0 || len(afters) > 0 {
		if len(befores) != len(sources) || len(afters) != len(sources) {
			return nil, fmt.Errorf("register columns of %d rows, expected %d",
				len(befores),
				len(sources))
		}

		columns = append(columns, rawColumn(befores), rawColumn(afters))
	}

	return jsoniter.Marshal(columns)
}

func rawColumn(values [][]byte) []json.RawMessage {
	column := make([]json.RawMessage, 0, len(values))
	for _, value := range values {
		column = append(column, json.RawMessage(value))
	}

	return column
}

// transient failures wait 0, 10ms, then (attempt-1) seconds capped at 5s
func backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 0
	case 1:
		return 10 * time.Millisecond
	}

	if wait := time.Duration(attempt-1) * time.Second; wait < 5*time.Second {
		return wait
	}

	return 5 * time.Second
}
