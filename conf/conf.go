package conf

import (
	"strconv"
	"time"

	"github.com/spirit-labs/tekagg/compress"
	"github.com/spirit-labs/tekagg/errors"
)

const (
	DefaultCacheMemMaxSizeBytes = 64 * 1024 * 1024
	DefaultMergeWorkerCount     = 16
	DefaultRemoteListenAddress  = "localhost:7770"
	DefaultRemoteTimeout        = 30 * time.Second
	DefaultRemoteCompression    = "lz4"
	DefaultMetricsBind          = "localhost:9102"
	DefaultMinioBucketName      = "tekagg-cache"

	NoCacheMirrorType    = "none"
	DevCacheMirrorType   = "dev"
	MinioCacheMirrorType = "minio"
)

type Config struct {
	// Query cache config
	CacheDir             string       `help:"Directory for serialized group state. Caching is disabled when empty"`
	CacheMemMaxSizeBytes ParseableInt `help:"Maximum bytes of serialized group state kept in memory. 0 disables the memory tier"`
	CacheMirrorType      string       `help:"Object store the cache is mirrored to" enum:"none,dev,minio" default:"none"`

	// Minio mirror config
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucketName string
	MinioSecure     bool

	// Merge execution config
	MergeWorkerCount int `help:"Size of the worker pool used to run merge sources concurrently"`

	// Remote executor config
	RemoteListenAddress string          `help:"Address the remote executor listens on"`
	RemoteAddresses     []string        `help:"Addresses of remote executors a query fans out to"`
	RemoteCompression   string          `help:"Compression used for serialized group state on the wire" enum:"none,gzip,lz4,snappy,zstd" default:"lz4"`
	RemoteTimeout       time.Duration   `help:"Timeout for a single remote aggregation"`
	RemoteTLSConfig     TLSConfig       `embed:"" prefix:"remote-tls-"`
	RemoteClientTLS     ClientTLSConfig `embed:"" prefix:"remote-client-tls-"`

	MetricsBind    string `help:"Bind address for Prometheus metrics." env:"METRICS_BIND"`
	MetricsEnabled bool
}

type ParseableInt int

// UnmarshalText Kong uses default Json Unmarshalling which unmarshalls numbers as float64 which can lose
// precision - this ensures large int fields are parsed correctly. The value needs to be quoted in the config.
func (p *ParseableInt) UnmarshalText(text []byte) error {
	i, err := strconv.ParseInt(string(text), 10, 64)
	if err != nil {
		return err
	}
	*p = ParseableInt(i)
	return nil
}

func (c *Config) ApplyDefaults() {
	if c.CacheMemMaxSizeBytes == 0 {
		c.CacheMemMaxSizeBytes = DefaultCacheMemMaxSizeBytes
	}
	if c.CacheMirrorType == "" {
		c.CacheMirrorType = NoCacheMirrorType
	}
	if c.MinioBucketName == "" {
		c.MinioBucketName = DefaultMinioBucketName
	}
	if c.MergeWorkerCount == 0 {
		c.MergeWorkerCount = DefaultMergeWorkerCount
	}
	if c.RemoteListenAddress == "" {
		c.RemoteListenAddress = DefaultRemoteListenAddress
	}
	if c.RemoteCompression == "" {
		c.RemoteCompression = DefaultRemoteCompression
	}
	if c.RemoteTimeout == 0 {
		c.RemoteTimeout = DefaultRemoteTimeout
	}
	if c.MetricsBind == "" {
		c.MetricsBind = DefaultMetricsBind
	}
}

func (c *Config) Validate() error {
	if c.CacheMemMaxSizeBytes < 0 {
		return errors.NewInvalidConfigurationError("cache-mem-max-size-bytes must be >= 0")
	}
	switch c.CacheMirrorType {
	case NoCacheMirrorType, DevCacheMirrorType:
	case MinioCacheMirrorType:
		if c.CacheDir == "" {
			return errors.NewInvalidConfigurationError("cache-dir must be specified if cache-mirror-type is minio")
		}
		if c.MinioEndpoint == "" {
			return errors.NewInvalidConfigurationError("minio-endpoint must be specified if cache-mirror-type is minio")
		}
		if c.MinioBucketName == "" {
			return errors.NewInvalidConfigurationError("minio-bucket-name must be specified if cache-mirror-type is minio")
		}
	default:
		return errors.NewInvalidConfigurationError("cache-mirror-type must be one of none, dev or minio")
	}
	if c.MergeWorkerCount < 1 {
		return errors.NewInvalidConfigurationError("merge-worker-count must be > 0")
	}
	if compress.FromString(c.RemoteCompression) == compress.CompressionTypeUnknown {
		return errors.NewInvalidConfigurationError("remote-compression must be one of none, gzip, lz4, snappy or zstd")
	}
	if c.RemoteTimeout < 1*time.Millisecond {
		return errors.NewInvalidConfigurationError("remote-timeout must be >= 1ms")
	}
	for _, address := range c.RemoteAddresses {
		if address == "" {
			return errors.NewInvalidConfigurationError("remote-addresses must not contain empty addresses")
		}
	}
	if c.RemoteTLSConfig.Enabled {
		if c.RemoteTLSConfig.CertPath == "" {
			return errors.NewInvalidConfigurationError("remote-tls-cert-path must be specified if remote-tls-enabled is true")
		}
		if c.RemoteTLSConfig.KeyPath == "" {
			return errors.NewInvalidConfigurationError("remote-tls-key-path must be specified if remote-tls-enabled is true")
		}
		if c.RemoteTLSConfig.ClientAuth != ClientAuthModeNoClientCert && c.RemoteTLSConfig.ClientAuth != "" &&
			c.RemoteTLSConfig.ClientCertsPath == "" {
			return errors.NewInvalidConfigurationError("remote-tls-client-certs-path must be provided if client auth is enabled")
		}
	}
	if c.MetricsEnabled && c.MetricsBind == "" {
		return errors.NewInvalidConfigurationError("metrics-bind must be specified if metrics-enabled is true")
	}
	return nil
}
