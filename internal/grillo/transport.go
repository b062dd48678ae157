package grillo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxBodyBytes = 1 << 20

// transport performs one call against the lab service. It never sees more
// than one account: uid is fixed at construction and empty for the
// administrative transport.
type transport struct {
	base  string
	token string
	uid   string
	cli   *http.Client
}

func newTransport(base, token string, cli *http.Client) *transport {
	if cli == nil {
		cli = http.DefaultClient
	}
	return &transport{
		base:  strings.TrimRight(base, "/"),
		token: token,
		cli:   cli,
	}
}

// as returns a copy bound to uid, sharing the underlying http.Client.
func (t *transport) as(uid string) *transport {
	return &transport{base: t.base, token: t.token, uid: uid, cli: t.cli}
}

// do issues method on path and decodes a successful payload into out (if
// non-nil). Service-reported errors come back as *ServiceError, everything
// else as *NetworkError.
func (t *transport) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	op := method + " " + path

	endpoint, err := url.Parse(t.base + path)
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}
	q := endpoint.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if t.uid != "" {
		q.Set("uid", t.uid)
	}
	endpoint.RawQuery = q.Encode()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.cli.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	raw = bytes.TrimSpace(raw)

	// The status code alone does not identify the outcome; the payload
	// is checked first.
	if len(raw) > 0 && raw[0] == '{' {
		var er errorResp
		if err := json.Unmarshal(raw, &er); err == nil && er.Error != nil && *er.Error != "" {
			status := resp.StatusCode
			if status < 400 {
				status = 0
			}
			return newServiceError(status, er.Error)
		}
	}

	if resp.StatusCode >= 400 {
		if resp.StatusCode >= 500 {
			return &NetworkError{Op: op, Err: fmt.Errorf("unexpected status: %s", resp.Status)}
		}
		return newServiceError(resp.StatusCode, nil)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

var errEmptyResponse = errors.New("empty response")
