package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ghalamif/AegisStream/internal/ports"
)

const (
	DefaultNetworkTimeout = 5 * time.Second
	maxErrorBody          = 4 * 1024
)

// NetworkConfig describes an InfluxDB 1.x compatible /write endpoint.
type NetworkConfig struct {
	URL      string        `yaml:"url"`
	Database string        `yaml:"database"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Gzip     bool          `yaml:"gzip"`
	Timeout  time.Duration `yaml:"timeout"`
}

// WriteError is returned when the endpoint answers with a non-2xx status.
type WriteError struct {
	StatusCode int
	Message    string
}

func (e *WriteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("write rejected: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("write rejected: %d %s", e.StatusCode, e.Message)
}

// NetworkBackend POSTs batches to <url>/write?db=<database>&precision=ms.
type NetworkBackend struct {
	cfg      NetworkConfig
	endpoint string
	client   *http.Client
}

func NewNetworkBackend(cfg NetworkConfig, client *http.Client) (*NetworkBackend, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("network sink: %w", ports.ErrMissingDestination)
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("network sink: parse url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("network sink: unsupported scheme %q", base.Scheme)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultNetworkTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	base.Path += "/write"
	q := base.Query()
	if cfg.Database != "" {
		q.Set("db", cfg.Database)
	}
	q.Set("precision", "ms")
	base.RawQuery = q.Encode()

	return &NetworkBackend{cfg: cfg, endpoint: base.String(), client: client}, nil
}

func (n *NetworkBackend) Name() string { return "network" }

// Endpoint is the fully qualified write URL.
func (n *NetworkBackend) Endpoint() string { return n.endpoint }

func (n *NetworkBackend) WriteBatch(ctx context.Context, batch []byte) error {
	if len(batch) == 0 {
		return nil
	}

	body, err := n.encode(batch)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if n.cfg.Gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if n.cfg.Username != "" || n.cfg.Password != "" {
		req.SetBasicAuth(n.cfg.Username, n.cfg.Password)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return readWriteError(resp)
}

func (n *NetworkBackend) encode(batch []byte) ([]byte, error) {
	if !n.cfg.Gzip {
		return bytes.Clone(batch), nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(batch); err != nil {
		return nil, fmt.Errorf("gzip batch: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip batch: %w", err)
	}
	return buf.Bytes(), nil
}

func readWriteError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	werr := &WriteError{StatusCode: resp.StatusCode}

	var envelope struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
		werr.Message = envelope.Error
	} else {
		werr.Message = strings.TrimSpace(string(raw))
	}
	return werr
}

var _ ports.Backend = (*NetworkBackend)(nil)
