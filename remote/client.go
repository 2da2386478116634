package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spirit-labs/tekagg/compress"
	"github.com/spirit-labs/tekagg/conf"
	"github.com/spirit-labs/tekagg/errors"
	log "github.com/spirit-labs/tekagg/logger"
	"github.com/spirit-labs/tekagg/metrics"
	"github.com/spirit-labs/tekagg/tasks"
	"golang.org/x/net/http2"
)

var errorPattern = regexp.MustCompile(`^TEK(\d{4}) - (.*)$`)

// Client sends aggregation requests to remote executors. Execute has the signature of tasks.RemoteExecuteFn.
type Client struct {
	httpClient      *http.Client
	scheme          string
	compressionType compress.CompressionType
	timeout         time.Duration
}

func NewClient(cfg *conf.Config) (*Client, error) {
	tlsConf, err := conf.CreateClientTLSConfig(cfg.RemoteClientTLS)
	if err != nil {
		return nil, err
	}
	scheme := "http"
	// compression is negotiated explicitly
	var transport http.RoundTripper = &http.Transport{DisableCompression: true}
	if tlsConf != nil {
		scheme = "https"
		transport = &http2.Transport{
			TLSClientConfig:    tlsConf,
			DisableCompression: true,
		}
	}
	return &Client{
		httpClient:      &http.Client{Transport: transport},
		scheme:          scheme,
		compressionType: compress.FromString(cfg.RemoteCompression),
		timeout:         cfg.RemoteTimeout,
	}, nil
}

func (c *Client) Execute(ctx context.Context, req *tasks.RemoteAggregateRequest) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := c.execute(ctx, req)
	metrics.RemoteDuration.WithLabelValues("client").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RemoteRequests.WithLabelValues("client", "error").Inc()
		log.Warnf("remote aggregation on %s failed: %v", req.Address, err)
		return nil, err
	}
	metrics.RemoteRequests.WithLabelValues("client", "ok").Inc()
	return rc, nil
}

func (c *Client) execute(ctx context.Context, req *tasks.RemoteAggregateRequest) (io.ReadCloser, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	url := fmt.Sprintf("%s://%s%s", c.scheme, req.Address, AggregatePath)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, errors.WithStack(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Encoding", c.compressionType.ContentEncoding())
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, errors.NewUnavailableErrorf("remote executor %s is unavailable: %v", req.Address, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer cancel()
		//goland:noinspection GoUnhandledErrorResult
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, decodeError(req.Address, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	compressionType := compress.FromString(resp.Header.Get("Content-Encoding"))
	if compressionType == compress.CompressionTypeUnknown {
		cancel()
		//goland:noinspection GoUnhandledErrorResult
		resp.Body.Close()
		return nil, errors.NewRuntimeErrorf("remote executor %s sent unsupported content encoding '%s'", req.Address,
			resp.Header.Get("Content-Encoding"))
	}
	decompressed, err := compress.NewReader(compressionType, resp.Body)
	if err != nil {
		cancel()
		//goland:noinspection GoUnhandledErrorResult
		resp.Body.Close()
		return nil, err
	}
	return &responseReader{ReadCloser: decompressed, body: resp.Body, cancel: cancel}, nil
}

func decodeError(address string, statusCode int, msg string) error {
	if groups := errorPattern.FindStringSubmatch(msg); groups != nil {
		code, err := strconv.Atoi(groups[1])
		if err == nil {
			return errors.NewTekaggErrorf(errors.ErrorCode(code), "remote executor %s: %s", address, groups[2])
		}
	}
	if statusCode >= http.StatusInternalServerError {
		return errors.NewUnavailableErrorf("remote executor %s returned status %d: %s", address, statusCode, msg)
	}
	return errors.NewRuntimeErrorf("remote executor %s returned status %d: %s", address, statusCode, msg)
}

type responseReader struct {
	io.ReadCloser
	body   io.ReadCloser
	cancel context.CancelFunc
}

func (r *responseReader) Close() error {
	defer r.cancel()
	err := r.ReadCloser.Close()
	if err2 := r.body.Close(); err == nil {
		err = err2
	}
	return errors.WithStack(err)
}
