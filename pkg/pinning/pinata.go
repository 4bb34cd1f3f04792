package pinning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/sigweihq/ebookpay/pkg/constants"
	"github.com/sigweihq/ebookpay/pkg/utils"
)

type PinataOptions struct {
	URL        string
	JWT        string
	HTTPClient *http.Client
	Progress   ProgressFunc
	Logger     *slog.Logger
}

// PinataClient uploads files through Pinata's pinFileToIPFS endpoint
type PinataClient struct {
	url      string
	jwt      string
	client   *http.Client
	progress ProgressFunc
	logger   *slog.Logger
}

var _ Uploader = (*PinataClient)(nil)

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

func NewPinataClient(opts PinataOptions) (*PinataClient, error) {
	if strings.TrimSpace(opts.JWT) == "" {
		return nil, ErrMissingCredential
	}
	url := opts.URL
	if url == "" {
		url = constants.DefaultPinningURL
	}
	if err := utils.ValidateServiceURL("pinning", url); err != nil {
		return nil, err
	}

	client := opts.HTTPClient
	if client == nil {
		// The JWT is sent on every request; never follow redirects with it
		client = utils.CreateHTTPClientWithTimeouts(constants.PinningTimeout, false)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PinataClient{
		url:      url,
		jwt:      opts.JWT,
		client:   client,
		progress: opts.Progress,
		logger:   logger,
	}, nil
}

// Upload pins r under name and returns ipfs://<hash>
func (c *PinataClient) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	body, contentType, err := c.encode(name, r)
	if err != nil {
		return "", err
	}

	var reader io.Reader = bytes.NewReader(body)
	if c.progress != nil {
		reader = &progressReader{r: reader, total: int64(len(body)), fn: c.progress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, reader)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.jwt)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	limitedReader := io.LimitReader(resp.Body, int64(constants.MaxResponseBodySize))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(limitedReader)
		return "", &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       bodyBytes,
		}
	}

	var pinned pinResponse
	if err := json.NewDecoder(limitedReader).Decode(&pinned); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	id, err := cid.Decode(pinned.IpfsHash)
	if err != nil {
		return "", fmt.Errorf("%w: response carried %q", ErrInvalidCID, pinned.IpfsHash)
	}

	c.logger.Info("content pinned", "name", name, "cid", id.String(), "size", pinned.PinSize)
	return Pointer(id), nil
}

func (c *PinataClient) encode(name string, r io.Reader) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	n, err := io.Copy(part, io.LimitReader(r, constants.MaxContentFileSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	if n > constants.MaxContentFileSize {
		return nil, "", fmt.Errorf("%w: %s", ErrTooLarge, name)
	}

	meta, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("pinataMetadata", string(meta)); err != nil {
		return nil, "", fmt.Errorf("failed to write metadata field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
