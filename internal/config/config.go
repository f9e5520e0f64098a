package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Spalmalo/parallel-download/internal/utils"
)

const EnvPrefix = "PDL"

type Config struct {
	OutputDir           string        `mapstructure:"output-dir"`
	ChunkSize           string        `mapstructure:"chunk-size"`
	ConnectTimeout      time.Duration `mapstructure:"connect-timeout"`
	RequestTimeout      time.Duration `mapstructure:"request-timeout"`
	KeepAliveTimeout    time.Duration `mapstructure:"keep-alive-timeout"`
	DownloadUnsupported bool          `mapstructure:"download-unsupported"`
	Retries             int           `mapstructure:"retries"`
	RetryBackoff        time.Duration `mapstructure:"retry-backoff"`
	MaxBufferedChunks   int           `mapstructure:"max-buffered-chunks"`
	UserAgent           string        `mapstructure:"user-agent"`
	Proxy               string        `mapstructure:"proxy"`
	ProxyUsername       string        `mapstructure:"proxy-username"`
	ProxyPassword       string        `mapstructure:"proxy-password"`
	Headers             []string      `mapstructure:"header"`
	Workers             int           `mapstructure:"workers"`
	HighThreadMode      bool          `mapstructure:"high-thread-mode"`
	Debug               bool          `mapstructure:"debug"`
}

// RegisterFlags declares every setting as a flag so cobra, the config file
// and PDL_* environment variables share one set of keys.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("output-dir", "o", ".", "Destination directory")
	flags.StringP("chunk-size", "s", "4MiB", "Size of each ranged chunk (eg. 512KiB, 8MiB)")
	flags.Duration("connect-timeout", 10*time.Second, "Time allowed to establish a connection")
	flags.Duration("request-timeout", 2*time.Minute, "Time allowed for one request, from send to fully received body")
	flags.DurationP("keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for idle connections")
	flags.Bool("download-unsupported", false, "Download as a single stream when the server does not support ranges")
	flags.IntP("retries", "r", utils.DefaultMaxRetries, "Retries per chunk for network errors and timeouts")
	flags.Duration("retry-backoff", 500*time.Millisecond, "Initial delay between retries")
	flags.Int("max-buffered-chunks", 0, "Chunks fetched ahead of the first unwritten one, bounding memory (0 = no limit)")
	flags.StringP("user-agent", "a", utils.ToolUserAgent, "User agent (use 'randomize' for a browser agent)")
	flags.StringP("proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., http://proxy.example.com:8080; http:// is assumed when omitted)")
	flags.String("proxy-username", "", "Proxy username (if not provided in proxy URL)")
	flags.String("proxy-password", "", "Proxy password (if not provided in proxy URL)")
	flags.StringArrayP("header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	flags.IntP("workers", "w", 2, "Number of downloads to run in parallel (batch)")
	flags.Bool("high-thread-mode", false, "Enlarge socket buffers for many concurrent chunks")
	flags.Bool("debug", false, "Enable debug logging")
}

// Load merges defaults, an optional config file, PDL_* environment variables
// and explicitly set flags, in increasing order of precedence.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("error binding flags: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pdl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/pdl")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, err := utils.ParseChunkSize(c.ChunkSize); err != nil {
		return err
	}
	if c.ConnectTimeout < 0 || c.RequestTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.Retries)
	}
	if c.MaxBufferedChunks < 0 {
		return fmt.Errorf("max-buffered-chunks must not be negative, got %d", c.MaxBufferedChunks)
	}
	if c.Proxy != "" {
		proxy, err := normalizeProxyURL(c.Proxy)
		if err != nil {
			return err
		}
		c.Proxy = proxy
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	return nil
}

// JobRequest turns the configuration into the inputs of one download.
// Empty dir or chunkSize fall back to the configured values.
func (c *Config) JobRequest(link, dir, fileName, chunkSize string) (utils.JobRequest, error) {
	if dir == "" {
		dir = c.OutputDir
	}
	if chunkSize == "" {
		chunkSize = c.ChunkSize
	}
	size, err := utils.ParseChunkSize(chunkSize)
	if err != nil {
		return utils.JobRequest{}, err
	}
	return utils.JobRequest{
		URL:       link,
		ChunkSize: size,
		OutputDir: dir,
		FileName:  fileName,
		Options: utils.DownloadOptions{
			DownloadUnsupported: c.DownloadUnsupported,
			MaxRetries:          c.Retries,
			RetryBackoff:        c.RetryBackoff,
			MaxBufferedChunks:   c.MaxBufferedChunks,
		},
		HTTPClientConfig: c.httpClientConfig(),
	}, nil
}

// normalizeProxyURL accepts host:port shorthand as an http proxy.
func normalizeProxyURL(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid proxy URL %q: %w", raw, err)
	}
	switch parsed.Scheme {
	case "http", "https", "socks5":
	default:
		return "", fmt.Errorf("unsupported proxy scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("proxy URL %q has no host", raw)
	}
	return parsed.String(), nil
}

func (c *Config) httpClientConfig() utils.HTTPClientConfig {
	userAgent := c.UserAgent
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	proxyURL, proxyUsername, proxyPassword := c.Proxy, c.ProxyUsername, c.ProxyPassword
	// Check if proxy URL contains auth
	if parsedProxy, err := url.Parse(proxyURL); err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	return utils.HTTPClientConfig{
		ConnectTimeout: c.ConnectTimeout,
		RequestTimeout: c.RequestTimeout,
		KATimeout:      c.KeepAliveTimeout,
		ProxyURL:       proxyURL,
		ProxyUsername:  proxyUsername,
		ProxyPassword:  proxyPassword,
		UserAgent:      userAgent,
		Headers:        utils.ParseHeaderArgs(c.Headers),
		HighThreadMode: c.HighThreadMode,
	}
}
