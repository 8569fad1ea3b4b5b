package upload

import (
	"context"
	"fmt"

	"github.com/tOgg1/fcompose/internal/config"
)

// Result is the completion body of a finished transfer.
type Result struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// TransferRequest describes one transfer handed to a Transport.
type TransferRequest struct {
	File        File
	Fingerprint string
	// ResumeURL continues an earlier transfer when set.
	ResumeURL string
	// OnNegotiated is called once the transport has a resumable endpoint.
	OnNegotiated func(resumeURL string)
}

// ProgressFunc reports bytes sent out of total.
type ProgressFunc func(sent, total int64)

// Transport moves file bytes to the server in resumable chunks.
type Transport interface {
	// Start uploads req.File, continuing at req.ResumeURL when possible.
	Start(ctx context.Context, req TransferRequest, progress ProgressFunc) (Result, error)
	// Abort tells the server to discard the transfer at resumeURL.
	Abort(ctx context.Context, resumeURL string) error
}

// NewTransport builds the transport named in cfg.
func NewTransport(ctx context.Context, cfg *config.Config) (Transport, error) {
	switch cfg.Uploads.Transport {
	case config.TransportTus:
		if cfg.Uploads.Tus.Endpoint == "" {
			return nil, fmt.Errorf("uploads.tus.endpoint is not set")
		}
		return NewTusTransport(cfg.Uploads.Tus, cfg.Uploads.ChunkSize), nil
	case config.TransportS3:
		return NewS3Transport(ctx, cfg.Uploads.S3, cfg.Uploads.ChunkSize)
	default:
		return nil, fmt.Errorf("unknown upload transport %q", cfg.Uploads.Transport)
	}
}
