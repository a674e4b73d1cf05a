// Package handshake performs the HTTP exchange that precedes a transport
// connection: the client announces itself and receives a connect token and
// the endpoint to dial.
package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/linchenxuan/netclient/log"
	"github.com/linchenxuan/netclient/metrics"
)

var (
	// ErrHandshakeRejected is returned when the server answers with an error field.
	ErrHandshakeRejected = errors.New("handshake rejected")
	// ErrBadResponse is returned for non-200 or undecodable responses.
	ErrBadResponse = errors.New("handshake bad response")
)

// DefaultPort is used when neither the response nor the root URL names a port.
const DefaultPort = 30120

// Request is what the client announces.
type Request struct {
	RootURL  string
	Name     string
	Protocol uint32
	GUID     uint64
	Session  string
}

// Result is the server's answer.
type Result struct {
	Token    string
	Protocol uint32
	// Endpoint is the "host:port" to hand to the transport.
	Endpoint string
}

// Handshaker runs the pre-connection exchange.
type Handshaker interface {
	Handshake(ctx context.Context, req Request) (Result, error)
}

// Config holds the HTTP handshake settings.
type Config struct {
	TimeoutSec int    `mapstructure:"timeoutSec"` // Overall request timeout.
	Path       string `mapstructure:"path"`       // Endpoint path below the root URL.
	UserAgent  string `mapstructure:"userAgent"`
}

// GetName returns the configuration key for Config.
func (c *Config) GetName() string {
	return "handshake"
}

// Validate fills in defaults.
func (c *Config) Validate() error {
	if c.TimeoutSec < 0 {
		return errors.New("timeoutSec cannot be negative")
	}
	if c.TimeoutSec == 0 {
		c.TimeoutSec = 15
	}
	if c.Path == "" {
		c.Path = "/client"
	}
	if !strings.HasPrefix(c.Path, "/") {
		c.Path = "/" + c.Path
	}
	if c.UserAgent == "" {
		c.UserAgent = "netclient"
	}
	return nil
}

type response struct {
	Token    string `json:"token"`
	Protocol uint32 `json:"protocol"`
	Endpoint string `json:"endpoint"`
	Error    string `json:"error"`
}

// HTTPHandshaker posts an initConnect form to {root}{path}.
type HTTPHandshaker struct {
	cfg    *Config
	client *http.Client
}

var _ Handshaker = (*HTTPHandshaker)(nil)

// NewHTTPHandshaker creates a handshaker. A nil client gets one with the
// configured timeout.
func NewHTTPHandshaker(cfg *Config, client *http.Client) (*HTTPHandshaker, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid handshake config: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second}
	}
	return &HTTPHandshaker{cfg: cfg, client: client}, nil
}

// Handshake performs the exchange. It honors ctx cancellation.
func (h *HTTPHandshaker) Handshake(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "fail"
		}
		metrics.RecordStopwatchWithDimGroup(metrics.NameHandshakeDurationMS, metrics.GroupNetLib, start,
			metrics.Dimension{metrics.DimResult: result})
	}()

	root, err := url.Parse(req.RootURL)
	if err != nil || root.Host == "" {
		return Result{}, fmt.Errorf("handshake: invalid root url %q", req.RootURL)
	}

	form := url.Values{}
	form.Set("method", "initConnect")
	form.Set("name", req.Name)
	form.Set("protocol", strconv.FormatUint(uint64(req.Protocol), 10))
	form.Set("guid", strconv.FormatUint(req.GUID, 10))
	form.Set("session", req.Session)

	target := strings.TrimSuffix(root.String(), "/") + h.cfg.Path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("handshake: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("User-Agent", h.cfg.UserAgent)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("handshake: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("handshake: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if r.Error != "" {
		return Result{}, fmt.Errorf("%w: %s", ErrHandshakeRejected, r.Error)
	}

	endpoint := r.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint(root)
	}

	log.Info().Str("root", req.RootURL).Str("endpoint", endpoint).Uint32("protocol", r.Protocol).Msg("handshake done")
	return Result{Token: r.Token, Protocol: r.Protocol, Endpoint: endpoint}, nil
}

func defaultEndpoint(root *url.URL) string {
	port := root.Port()
	if port == "" {
		port = strconv.Itoa(DefaultPort)
	}
	return net.JoinHostPort(root.Hostname(), port)
}
