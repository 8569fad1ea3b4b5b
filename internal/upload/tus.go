package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tOgg1/fcompose/internal/config"
	"github.com/tOgg1/fcompose/internal/logging"
)

const tusVersion = "1.0.0"

// TusTransport uploads over the tus 1.0.0 resumable protocol.
type TusTransport struct {
	endpoint   string
	headers    map[string]string
	chunkSize  int64
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewTusTransport returns a transport posting to cfg.Endpoint.
func NewTusTransport(cfg config.TusConfig, chunkSize int64) *TusTransport {
	if chunkSize <= 0 {
		chunkSize = 6 << 20
	}
	return &TusTransport{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		headers:    cfg.Headers,
		chunkSize:  chunkSize,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logging.Component("upload.tus"),
	}
}

type tusErrorPayload struct {
	Msg string `json:"msg"`
}

// Start creates or resumes the upload and sends the remaining chunks. The
// response to the final chunk carries the completion body.
func (t *TusTransport) Start(ctx context.Context, req TransferRequest, progress ProgressFunc) (Result, error) {
	uploadURL := req.ResumeURL
	var offset int64

	if uploadURL != "" {
		resumed, ok, err := t.head(ctx, uploadURL)
		if err != nil {
			return Result{}, err
		}
		if ok {
			offset = resumed
			t.logger.Debug().Str("url", logging.RedactURL(uploadURL)).Int64("offset", offset).Msg("resuming upload")
		} else {
			uploadURL = ""
		}
	}

	if uploadURL == "" {
		created, err := t.create(ctx, req.File)
		if err != nil {
			return Result{}, err
		}
		uploadURL = created
	}
	if req.OnNegotiated != nil {
		req.OnNegotiated(uploadURL)
	}
	if progress != nil {
		progress(offset, req.File.Size)
	}

	for {
		n := req.File.Size - offset
		if n > t.chunkSize {
			n = t.chunkSize
		}

		next, body, err := t.patch(ctx, uploadURL, req.File, offset, n)
		if err != nil {
			return Result{}, err
		}
		if next < offset || (next == offset && n > 0) {
			return Result{}, fmt.Errorf("tus patch: offset did not advance past %d: %w", offset, ErrMalformedResponse)
		}
		offset = next
		if progress != nil {
			progress(offset, req.File.Size)
		}
		if offset >= req.File.Size {
			return t.decodeResult(body)
		}
	}
}

func (t *TusTransport) decodeResult(body []byte) (Result, error) {
	var result Result
	if err := json.Unmarshal(body, &result); err != nil || result.URL == "" {
		t.logger.Error().Bytes("body", truncate(body, 256)).Msg("malformed upload completion body")
		if err == nil {
			err = fmt.Errorf("missing url")
		}
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return result, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

func (t *TusTransport) create(ctx context.Context, f File) (string, error) {
	req, err := t.newRequest(ctx, http.MethodPost, t.endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Upload-Length", strconv.FormatInt(f.Size, 10))
	req.Header.Set("Upload-Metadata", encodeMetadata(map[string]string{
		"filename": f.Name,
		"filetype": f.Type,
	}))

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tus create: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", readServerError(resp)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("tus create: no Location header: %w", ErrMalformedResponse)
	}
	return t.resolve(location)
}

// head returns the server's offset for uploadURL. It reports false when the
// upload no longer exists and must be created again.
func (t *TusTransport) head(ctx context.Context, uploadURL string) (int64, bool, error) {
	req, err := t.newRequest(ctx, http.MethodHead, uploadURL, nil)
	if err != nil {
		return 0, false, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("tus head: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusForbidden:
		return 0, false, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return 0, false, readServerError(resp)
	}

	offset, err := strconv.ParseInt(resp.Header.Get("Upload-Offset"), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("tus head: bad Upload-Offset: %w", ErrMalformedResponse)
	}
	return offset, true, nil
}

func (t *TusTransport) patch(ctx context.Context, uploadURL string, f File, offset, n int64) (int64, []byte, error) {
	var body io.Reader = bytes.NewReader(nil)
	if n > 0 {
		body = io.NewSectionReader(f.Data, offset, n)
	}
	req, err := t.newRequest(ctx, http.MethodPatch, uploadURL, body)
	if err != nil {
		return 0, nil, err
	}
	req.ContentLength = n
	req.Header.Set("Content-Type", "application/offset+octet-stream")
	req.Header.Set("Upload-Offset", strconv.FormatInt(offset, 10))

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("tus patch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, nil, readServerError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("tus patch: read body: %w", err)
	}
	next, err := strconv.ParseInt(resp.Header.Get("Upload-Offset"), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("tus patch: bad Upload-Offset: %w", ErrMalformedResponse)
	}
	return next, data, nil
}

// Abort deletes the upload using the termination extension.
func (t *TusTransport) Abort(ctx context.Context, uploadURL string) error {
	req, err := t.newRequest(ctx, http.MethodDelete, uploadURL, nil)
	if err != nil {
		return err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tus delete: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readServerError(resp)
	}
	return nil
}

func (t *TusTransport) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Tus-Resumable", tusVersion)
	return req, nil
}

func (t *TusTransport) resolve(location string) (string, error) {
	base, err := url.Parse(t.endpoint)
	if err != nil {
		return "", fmt.Errorf("tus endpoint: %w", err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("tus location: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// readServerError turns a rejected response into a ServerError, keeping the
// server's {"msg": ...} text when present.
func readServerError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	serverErr := &ServerError{Status: resp.StatusCode}
	var payload tusErrorPayload
	if err := json.Unmarshal(data, &payload); err == nil {
		serverErr.Message = payload.Msg
	}
	return serverErr
}

func encodeMetadata(meta map[string]string) string {
	parts := make([]string, 0, len(meta))
	for _, k := range []string{"filename", "filetype"} {
		v, ok := meta[k]
		if !ok || v == "" {
			continue
		}
		parts = append(parts, k+" "+base64.StdEncoding.EncodeToString([]byte(v)))
	}
	return strings.Join(parts, ",")
}
