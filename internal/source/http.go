package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"relaybot/internal/notice"
	logx "relaybot/pkg/logx"
)

const maxBody = 8 << 20

// HTTPSource polls a JSON endpoint.
type HTTPSource struct {
	url    string
	client *http.Client
	log    logx.Logger
}

func NewHTTP(cfg Config, log logx.Logger) (*HTTPSource, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("source.base_url is required for http driver")
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u, err := url.Parse(base + path)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New("source.base_url must be an absolute URL")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPSource{url: u.String(), client: &http.Client{Timeout: timeout}, log: log}, nil
}

func (s *HTTPSource) URL() string { return s.url }

func (s *HTTPSource) Fetch(ctx context.Context) ([]notice.Raw, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, unavailable("build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, unavailable("GET %s: %v", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, unavailable("GET %s: status %d", s.url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, unavailable("read body: %v", err)
	}
	out, err := decodeBatch(body)
	if err != nil {
		return nil, unavailable("decode body: %v", err)
	}
	s.log.Debug("fetched", logx.Int("count", len(out)), logx.Int("bytes", len(body)))
	return out, nil
}

func (s *HTTPSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// decodeBatch accepts an object (one record) or an array of objects.
// Any other JSON value is an empty batch; non-object array elements are
// skipped.
func decodeBatch(body []byte) ([]notice.Raw, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case map[string]any:
		return []notice.Raw{x}, nil
	case []any:
		out := make([]notice.Raw, 0, len(x))
		for _, e := range x {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out, nil
	default:
		return nil, nil
	}
}
