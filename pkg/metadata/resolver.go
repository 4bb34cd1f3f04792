package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/sigweihq/ebookpay/pkg/constants"
	"github.com/sigweihq/ebookpay/pkg/types"
	"github.com/sigweihq/ebookpay/pkg/utils"
)

const (
	ipfsScheme  = "ipfs://"
	cidTemplate = "{cid}"
)

type Options struct {
	// Gateway is a URL template containing {cid}, or a prefix to which /ipfs/<cid> is appended
	Gateway    string
	Attempts   int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	// MaxFileSize bounds FetchFile downloads; zero uses constants.MaxContentFileSize
	MaxFileSize int64
}

// Resolver turns content pointers into gateway URLs and fetches what they reference.
// It talks to a single gateway with a bounded number of attempts.
type Resolver struct {
	gateway  string
	attempts int
	backoff  time.Duration
	client   *http.Client
	logger   *slog.Logger
	maxFile  int64
}

func NewResolver(opts Options) (*Resolver, error) {
	gateway := strings.TrimSpace(opts.Gateway)
	if gateway == "" {
		gateway = constants.DefaultGateway
	}
	if err := utils.ValidateServiceURL("gateway", gateway); err != nil {
		return nil, err
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = constants.DefaultGatewayAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = constants.GatewayBackoff
	}
	client := opts.HTTPClient
	if client == nil {
		client = utils.CreateHTTPClientWithTimeouts(constants.GatewayTimeout, true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxFile := opts.MaxFileSize
	if maxFile <= 0 {
		maxFile = constants.MaxContentFileSize
	}

	return &Resolver{
		gateway:  gateway,
		attempts: attempts,
		backoff:  backoff,
		client:   client,
		logger:   logger,
		maxFile:  maxFile,
	}, nil
}

// URL rewrites a pointer into a fetchable URL. ipfs:// pointers and bare CIDs go
// through the gateway and must carry a valid CID; http(s) URLs are returned unchanged.
func (r *Resolver) URL(pointer string) (string, error) {
	pointer = strings.TrimSpace(pointer)
	lower := strings.ToLower(pointer)

	if strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://") {
		return pointer, nil
	}

	part := pointer
	if strings.HasPrefix(lower, ipfsScheme) {
		part = pointer[len(ipfsScheme):]
		part = strings.TrimPrefix(part, "ipfs/")
	} else if strings.Contains(pointer, "://") {
		return "", fmt.Errorf("%w: unsupported scheme in %q", ErrMalformedPointer, pointer)
	}

	id, _, _ := strings.Cut(part, "/")
	if id == "" {
		return "", fmt.Errorf("%w: %q has no content id", ErrMalformedPointer, pointer)
	}
	if _, err := cid.Decode(id); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrMalformedPointer, pointer, err)
	}

	if strings.Contains(r.gateway, cidTemplate) {
		return strings.Replace(r.gateway, cidTemplate, part, 1), nil
	}
	return strings.TrimRight(r.gateway, "/") + "/ipfs/" + part, nil
}

// Resolve fetches and validates the metadata document a pointer references
func (r *Resolver) Resolve(ctx context.Context, pointer string) (*types.ContentMetadata, error) {
	url, err := r.URL(pointer)
	if err != nil {
		return nil, err
	}

	resp, err := r.open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(constants.MaxResponseBodySize)+1))
	if err != nil {
		return nil, &GatewayError{URL: url, Attempts: 1, Err: err}
	}
	if len(body) > constants.MaxResponseBodySize {
		return nil, fmt.Errorf("%w: metadata at %s", ErrContentTooLarge, url)
	}

	var md types.ContentMetadata
	if err := json.Unmarshal(bytes.TrimSpace(body), &md); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMetadata, pointer, err)
	}
	if err := md.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMetadata, pointer, err)
	}
	return &md, nil
}

// FetchFile opens the content a pointer references. The caller must close the reader.
func (r *Resolver) FetchFile(ctx context.Context, pointer string) (io.ReadCloser, error) {
	url, err := r.URL(pointer)
	if err != nil {
		return nil, err
	}

	resp, err := r.open(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength > r.maxFile {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrContentTooLarge, url, resp.ContentLength)
	}
	return &limitedBody{body: resp.Body, url: url, remaining: r.maxFile}, nil
}

// limitedBody fails with ErrContentTooLarge once more than the limit has been read,
// so an oversized download without Content-Length never ends in a clean EOF.
type limitedBody struct {
	body      io.ReadCloser
	url       string
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining < 0 {
		return 0, fmt.Errorf("%w: %s", ErrContentTooLarge, b.url)
	}
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.body.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		return n + int(b.remaining), fmt.Errorf("%w: %s", ErrContentTooLarge, b.url)
	}
	return n, err
}

func (b *limitedBody) Close() error {
	return b.body.Close()
}

// open performs a GET with bounded attempts and exponential backoff.
// Missing content is not retried; 5xx, 429 and transport errors are.
func (r *Resolver) open(ctx context.Context, url string) (*http.Response, error) {
	var (
		lastErr    error
		lastStatus int
	)

	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 {
			delay := r.backoff << (attempt - 2)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr, lastStatus = err, 0
			r.logger.Warn("gateway fetch failed", "url", url, "attempt", attempt, "error", err)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			lastErr, lastStatus = fmt.Errorf("HTTP %d", resp.StatusCode), resp.StatusCode
			r.logger.Warn("gateway returned retryable status", "url", url, "attempt", attempt, "status", resp.StatusCode)
		default:
			resp.Body.Close()
			return nil, &GatewayError{URL: url, Attempts: attempt, StatusCode: resp.StatusCode, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
		}
	}

	return nil, &GatewayError{URL: url, Attempts: r.attempts, StatusCode: lastStatus, Err: lastErr}
}
