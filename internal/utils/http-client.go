package utils

import (
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type PDLHTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

// NewPDLHTTPClient builds a client whose dialer enforces the connect timeout.
// The request timeout is applied per attempt by the caller through the
// request context, so the client itself carries no overall timeout.
func NewPDLHTTPClient(cfg HTTPClientConfig) *PDLHTTPClient {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	if cfg.HighThreadMode {
		dialer.Control = func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				tuneSocketBuffers(fd)
			})
		}
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		IdleConnTimeout:     cfg.KATimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		DisableCompression:  true, // raw bytes for range requests
		MaxConnsPerHost:     0,
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil || proxyURL.Host == "" {
			log.Warn().Str("op", "http/client").Msgf("Ignoring invalid proxy URL %q", cfg.ProxyURL)
		} else {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &PDLHTTPClient{
		client: &http.Client{Transport: transport},
		config: cfg,
	}
}

func (c *PDLHTTPClient) Config() HTTPClientConfig {
	return c.config
}

func (c *PDLHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}

// CloseIdleConnections releases pooled connections once a job is finished.
func (c *PDLHTTPClient) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}
