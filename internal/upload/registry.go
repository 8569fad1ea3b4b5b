package upload

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/fcompose/internal/config"
	"github.com/tOgg1/fcompose/internal/events"
	"github.com/tOgg1/fcompose/internal/logging"
)

// SurfaceKey names an editing surface: the compose box or a message edit row.
type SurfaceKey string

// ComposeSurface is the key of the compose box.
const ComposeSurface SurfaceKey = "compose"

// EditSurface returns the key of the edit row for messageID.
func EditSurface(messageID int64) SurfaceKey {
	return SurfaceKey(strconv.FormatInt(messageID, 10))
}

// Mode distinguishes the compose box from edit rows.
type Mode string

// Surface modes.
const (
	ModeCompose Mode = "compose"
	ModeEdit    Mode = "edit"
)

// SurfaceConfig describes one surface's collaborators. It is never shared
// between surfaces.
type SurfaceConfig struct {
	Mode Mode
	// RowID is the message being edited when Mode is ModeEdit.
	RowID    int64
	Textarea Textarea
	Banners  Banners
	SendGate SendGate
}

// Key returns the registry key of the surface.
func (c SurfaceConfig) Key() SurfaceKey {
	if c.Mode == ModeEdit {
		return EditSurface(c.RowID)
	}
	return ComposeSurface
}

// FilesAdded is the payload of events.EventTypeFilesAdded.
type FilesAdded struct {
	Files []File
}

// PublishFiles announces files dropped, pasted or picked on surface.
func PublishFiles(ctx context.Context, pub events.Publisher, surface SurfaceKey, files ...File) {
	pub.Publish(ctx, events.New(events.EventTypeFilesAdded, events.EntityTypeSurface, string(surface), FilesAdded{Files: files}))
}

// RegistryConfig holds settings shared by every surface.
type RegistryConfig struct {
	Transport     Transport
	MaxFileSize   int64
	MaxConcurrent int
	BannerLinger  time.Duration
}

// RegistryConfigFrom derives registry settings from cfg.
func RegistryConfigFrom(cfg *config.Config, transport Transport) RegistryConfig {
	return RegistryConfig{
		Transport:     transport,
		MaxFileSize:   cfg.MaxFileUploadSizeBytes(),
		MaxConcurrent: cfg.Uploads.MaxConcurrent,
		BannerLinger:  cfg.Uploads.BannerLinger,
	}
}

// Registry maps surfaces to their managers. All surfaces share one resume
// cache.
type Registry struct {
	cfg       RegistryConfig
	cache     *ResumeCache
	publisher events.Publisher
	logger    zerolog.Logger

	mu       sync.Mutex
	managers map[SurfaceKey]*Manager
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg RegistryConfig, publisher events.Publisher) *Registry {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Registry{
		cfg:       cfg,
		cache:     NewResumeCache(),
		publisher: publisher,
		logger:    logging.Component("upload"),
		managers:  make(map[SurfaceKey]*Manager),
	}
}

// Cache returns the shared resume cache.
func (r *Registry) Cache() *ResumeCache { return r.cache }

func subscriptionID(key SurfaceKey) string {
	return "upload:" + string(key)
}

// SetupUpload builds the manager for a surface and subscribes it to files
// added there. The compose surface is created once; later calls return the
// live instance. Setting up an edit row that already has a manager replaces
// it.
func (r *Registry) SetupUpload(sc SurfaceConfig) (*Manager, error) {
	key := sc.Key()

	r.mu.Lock()
	if existing, ok := r.managers[key]; ok {
		if sc.Mode != ModeEdit {
			r.mu.Unlock()
			return existing, nil
		}
		r.mu.Unlock()
		r.deactivate(key)
		r.mu.Lock()
		if raced, ok := r.managers[key]; ok {
			r.mu.Unlock()
			return raced, nil
		}
	}
	defer r.mu.Unlock()

	m, err := NewManager(ManagerConfig{
		Surface:       key,
		Textarea:      sc.Textarea,
		Banners:       sc.Banners,
		SendGate:      sc.SendGate,
		Transport:     r.cfg.Transport,
		Cache:         r.cache,
		Publisher:     r.publisher,
		MaxFileSize:   r.cfg.MaxFileSize,
		MaxConcurrent: r.cfg.MaxConcurrent,
		BannerLinger:  r.cfg.BannerLinger,
	})
	if err != nil {
		return nil, err
	}

	filter := events.Filter{
		EventTypes: []events.EventType{events.EventTypeFilesAdded},
		EntityID:   string(key),
	}
	err = r.publisher.Subscribe(subscriptionID(key), filter, func(e *events.Event) {
		if added, ok := e.Payload.(FilesAdded); ok {
			m.AddFiles(added.Files...)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe surface %s: %w", key, err)
	}

	r.managers[key] = m
	r.logger.Debug().Str("surface", string(key)).Msg("upload surface set up")
	return m, nil
}

// DeactivateUpload unsubscribes the surface, cancels its transfers and drops
// it from the registry. Unknown surfaces are ignored.
func (r *Registry) DeactivateUpload(sc SurfaceConfig) {
	r.deactivate(sc.Key())
}

func (r *Registry) deactivate(key SurfaceKey) {
	r.mu.Lock()
	m, ok := r.managers[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.managers, key)
	_ = r.publisher.Unsubscribe(subscriptionID(key))
	r.mu.Unlock()

	m.Close()
	r.logger.Debug().Str("surface", string(key)).Msg("upload surface deactivated")
}

// Lookup returns the manager that owns key.
func (r *Registry) Lookup(key SurfaceKey) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[key]
	return m, ok
}

// Surfaces returns the number of live surfaces.
func (r *Registry) Surfaces() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}

// Close deactivates every surface.
func (r *Registry) Close() {
	r.mu.Lock()
	keys := make([]SurfaceKey, 0, len(r.managers))
	for key := range r.managers {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	for _, key := range keys {
		r.deactivate(key)
	}
}
