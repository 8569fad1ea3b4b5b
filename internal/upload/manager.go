// Package upload runs resumable file transfers for compose and edit surfaces.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/tOgg1/fcompose/internal/events"
	"github.com/tOgg1/fcompose/internal/logging"
)

// Textarea is the text buffer placeholders and links are written into.
type Textarea interface {
	// InsertAtCursor inserts s at the cursor and returns the byte offset it
	// was inserted at.
	InsertAtCursor(s string) int
	// Splice replaces the range returned by locate with replacement. It
	// reports false, leaving the text unchanged, when locate finds nothing.
	Splice(locate func(text string) (start, end int, ok bool), replacement string) bool
}

// Banners renders per-transfer progress and error notices.
type Banners interface {
	ShowProgress(key, name string)
	SetProgress(key string, percent int)
	ShowError(key, message string)
	Remove(key string)
}

// SendGate blocks sending while uploads are in flight.
type SendGate interface {
	SetUploading(uploading bool)
}

// Transfer is a snapshot of one file transfer.
type Transfer struct {
	Handle    string
	FileID    string
	Name      string
	State     State
	ResumeURL string
	Sent      int64
	Total     int64
	Result    Result
	Err       error
}

type transfer struct {
	Transfer
	file     File
	marker   Marker
	cacheKey string
	cancel   context.CancelFunc
}

// AddResult reports what happened to one added file.
type AddResult struct {
	Name   string
	Handle string
	// Duplicate is set when an active transfer of the same file already
	// exists on the surface; Handle then names that transfer.
	Duplicate bool
	Err       error
}

// ManagerConfig wires a Manager to its surface.
type ManagerConfig struct {
	Surface   SurfaceKey
	Textarea  Textarea
	Banners   Banners
	SendGate  SendGate
	Transport Transport
	Cache     *ResumeCache
	Publisher events.Publisher
	// MaxFileSize is the per-file limit in bytes. Zero disables uploads.
	MaxFileSize   int64
	MaxConcurrent int
	BannerLinger  time.Duration
}

// Manager owns every transfer of one surface.
type Manager struct {
	cfg    ManagerConfig
	sem    *semaphore.Weighted
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger

	mu        sync.Mutex
	transfers map[string]*transfer
	order     []string
	uploading bool
	closed    bool
	// timers remove lingering success banners.
	timers map[string]*time.Timer
}

// NewManager returns a manager for one surface.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Textarea == nil || cfg.Banners == nil {
		return nil, fmt.Errorf("surface %s: textarea and banners are required: %w", cfg.Surface, ErrInvalidSurface)
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("surface %s: transport is required: %w", cfg.Surface, ErrInvalidSurface)
	}
	if cfg.Cache == nil {
		cfg.Cache = NewResumeCache()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Discard
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		ctx:       ctx,
		stop:      stop,
		logger:    logging.WithSurface(logging.Component("upload"), string(cfg.Surface)),
		transfers: make(map[string]*transfer),
		timers:    make(map[string]*time.Timer),
	}, nil
}

// Surface returns the surface this manager serves.
func (m *Manager) Surface() SurfaceKey { return m.cfg.Surface }

// AddFiles accepts files in order. Rejected files get an error banner and
// never enter the state machine.
func (m *Manager) AddFiles(files ...File) []AddResult {
	results := make([]AddResult, 0, len(files))
	for _, f := range files {
		results = append(results, m.add(f))
	}
	return results
}

func (m *Manager) add(f File) AddResult {
	if err := m.checkRestrictions(f); err != nil {
		m.cfg.Banners.ShowError(uuid.NewString(), restrictionMessage(f, err, m.cfg.MaxFileSize))
		m.logger.Info().Str("file", f.Name).Int64("size", f.Size).Err(err).Msg("upload rejected")
		return AddResult{Name: f.Name, Err: err}
	}

	fp, err := Fingerprint(f)
	if err != nil {
		m.cfg.Banners.ShowError(uuid.NewString(), fmt.Sprintf("Failed to read %s.", f.Name))
		return AddResult{Name: f.Name, Err: err}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return AddResult{Name: f.Name, Err: ErrManagerClosed}
	}
	for _, existing := range m.transfers {
		if existing.FileID == fp && existing.State.IsActive() {
			m.mu.Unlock()
			return AddResult{Name: f.Name, Handle: existing.Handle, Duplicate: true}
		}
	}

	t := &transfer{
		Transfer: Transfer{
			Handle: uuid.NewString(),
			FileID: fp,
			Name:   f.Name,
			State:  StateQueued,
			Total:  f.Size,
		},
		file: f,
	}
	m.transfers[t.Handle] = t
	m.order = append(m.order, t.Handle)
	pending := []*events.Event{m.stateEvent(t)}

	key, entry, found := m.cfg.Cache.Claim(fp, t.Handle)
	if found && entry.Complete {
		t.cacheKey = key
		t.Result = entry.Result
		t.Sent = t.Total
		pending = m.appendTransition(pending, t, StateSucceeded)
		m.cfg.Textarea.InsertAtCursor(Link(entry.Result))
		m.mu.Unlock()

		m.logger.Debug().Str("file", f.Name).Msg("reused completed upload")
		m.publish(pending)
		return AddResult{Name: f.Name, Handle: t.Handle}
	}

	token := Placeholder(f.Name)
	t.marker = Marker{Token: token, Offset: m.cfg.Textarea.InsertAtCursor(token)}
	m.cfg.Banners.ShowProgress(t.Handle, f.Name)
	if found {
		t.cacheKey = key
		t.ResumeURL = entry.ResumeURL
		pending = m.appendTransition(pending, t, StatePaused)
	}
	m.refreshGate()

	ctx, cancel := context.WithCancel(m.ctx)
	t.cancel = cancel
	m.wg.Add(1)
	go m.run(ctx, t.Handle)
	m.mu.Unlock()

	m.publish(pending)
	return AddResult{Name: f.Name, Handle: t.Handle}
}

func (m *Manager) checkRestrictions(f File) error {
	if m.cfg.MaxFileSize <= 0 {
		return ErrUploadsDisabled
	}
	if f.Size > m.cfg.MaxFileSize {
		return fmt.Errorf("%s is %s: %w", f.Name, humanize.IBytes(uint64(f.Size)), ErrFileTooLarge)
	}
	return nil
}

func restrictionMessage(f File, err error, limit int64) string {
	if errors.Is(err, ErrUploadsDisabled) {
		return "File and image uploads have been disabled for this organization."
	}
	return fmt.Sprintf("%s is too large. The maximum file size is %s.", f.Name, humanize.IBytes(uint64(limit)))
}

func (m *Manager) run(ctx context.Context, handle string) {
	defer m.wg.Done()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer m.sem.Release(1)

	m.mu.Lock()
	t, ok := m.transfers[handle]
	if !ok || t.State.IsTerminal() {
		m.mu.Unlock()
		return
	}
	pending := m.appendTransition(nil, t, StateUploading)
	req := TransferRequest{
		File:         t.file,
		Fingerprint:  t.FileID,
		ResumeURL:    t.ResumeURL,
		OnNegotiated: func(url string) { m.negotiated(handle, url) },
	}
	m.mu.Unlock()
	m.publish(pending)

	result, err := m.cfg.Transport.Start(ctx, req, func(sent, total int64) {
		m.progress(handle, sent, total)
	})
	if err != nil {
		m.fail(handle, err)
		return
	}
	m.succeed(handle, result)
}

// current returns the transfer if it is still uploading. Callbacks for
// anything else are stale.
func (m *Manager) current(handle string) (*transfer, bool) {
	t, ok := m.transfers[handle]
	if !ok || t.State != StateUploading {
		return nil, false
	}
	return t, true
}

func (m *Manager) negotiated(handle, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.current(handle)
	if !ok {
		return
	}
	t.ResumeURL = url
	entry := ResumeEntry{ResumeURL: url, Owner: handle}
	if t.cacheKey == "" {
		t.cacheKey = m.cfg.Cache.Add(t.FileID, entry)
	} else {
		m.cfg.Cache.Update(t.cacheKey, entry)
	}
	m.logger.Debug().Str("file", t.Name).Str("resume_url", logging.RedactURL(url)).Msg("upload negotiated")
}

func (m *Manager) progress(handle string, sent, total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.current(handle)
	if !ok {
		return
	}
	t.Sent = sent
	if total > 0 {
		t.Total = total
	}
	m.cfg.Banners.SetProgress(handle, percent(t.Sent, t.Total))
}

func percent(sent, total int64) int {
	if total <= 0 {
		return 100
	}
	p := int(sent * 100 / total)
	if p > 100 {
		p = 100
	}
	return p
}

func (m *Manager) succeed(handle string, result Result) {
	m.mu.Lock()
	t, ok := m.current(handle)
	if !ok {
		m.mu.Unlock()
		m.logger.Debug().Str("handle", handle).Msg("ignoring stale upload success")
		return
	}

	t.Result = result
	t.Sent = t.Total
	entry := ResumeEntry{ResumeURL: t.ResumeURL, Result: result, Complete: true}
	if t.cacheKey == "" {
		t.cacheKey = m.cfg.Cache.Add(t.FileID, entry)
	} else {
		m.cfg.Cache.Update(t.cacheKey, entry)
	}
	pending := m.appendTransition(nil, t, StateSucceeded)

	link := Link(result)
	if !m.cfg.Textarea.Splice(t.marker.Locate, link) {
		m.cfg.Textarea.InsertAtCursor(link)
	}
	m.cfg.Banners.SetProgress(handle, 100)
	m.removeBannerLater(handle)
	m.refreshGate()
	m.mu.Unlock()

	m.logger.Info().Str("file", t.Name).Str("filename", result.Filename).Msg("upload succeeded")
	m.publish(pending)
}

func (m *Manager) fail(handle string, err error) {
	m.mu.Lock()
	t, ok := m.current(handle)
	if !ok {
		m.mu.Unlock()
		m.logger.Debug().Str("handle", handle).Err(err).Msg("ignoring stale upload failure")
		return
	}

	t.Err = err
	if t.cacheKey != "" {
		m.cfg.Cache.Release(t.cacheKey, handle)
	}
	pending := m.appendTransition(nil, t, StateFailed)
	m.cfg.Textarea.Splice(t.marker.Locate, "")
	m.cfg.Banners.ShowError(handle, failureMessage(t.Name, err))
	m.refreshGate()
	m.mu.Unlock()

	m.logger.Warn().Str("file", t.Name).Str("error", logging.Redact(err.Error())).Msg("upload failed")
	m.publish(pending)
}

// failureMessage prefers the server's own wording.
func failureMessage(name string, err error) string {
	var serverErr *ServerError
	if errors.As(err, &serverErr) && serverErr.Message != "" {
		return serverErr.Message
	}
	return fmt.Sprintf("Failed to upload %s.", name)
}

func (m *Manager) removeBannerLater(handle string) {
	if m.cfg.BannerLinger <= 0 {
		m.cfg.Banners.Remove(handle)
		return
	}
	m.timers[handle] = time.AfterFunc(m.cfg.BannerLinger, func() {
		m.mu.Lock()
		_, pending := m.timers[handle]
		delete(m.timers, handle)
		m.mu.Unlock()
		if pending {
			m.cfg.Banners.Remove(handle)
		}
	})
}

// Cancel abandons one transfer. Local cleanup happens immediately; the
// server-side abort runs in the background. It reports false when the
// transfer is unknown or already finished.
func (m *Manager) Cancel(handle string) bool {
	m.mu.Lock()
	t, ok := m.transfers[handle]
	if !ok || t.State.IsTerminal() {
		m.mu.Unlock()
		return false
	}

	pending := m.appendTransition(nil, t, StateCancelled)
	if t.cancel != nil {
		t.cancel()
	}
	m.cfg.Textarea.Splice(t.marker.Locate, "")
	m.cfg.Banners.Remove(handle)
	// A URL still held by a transfer on another surface stays alive.
	owned := t.cacheKey != "" && m.cfg.Cache.RemoveOwned(t.cacheKey, handle)
	resumeURL := t.ResumeURL
	m.refreshGate()
	if owned && resumeURL != "" {
		m.wg.Add(1)
		go m.abort(resumeURL)
	}
	m.mu.Unlock()

	m.logger.Info().Str("file", t.Name).Msg("upload cancelled")
	m.publish(pending)
	return true
}

const abortTimeout = 10 * time.Second

func (m *Manager) abort(resumeURL string) {
	defer m.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	if err := m.cfg.Transport.Abort(ctx, resumeURL); err != nil {
		m.logger.Debug().Err(err).Str("resume_url", logging.RedactURL(resumeURL)).Msg("abort failed")
	}
}

// CancelAll cancels every active transfer and clears the send gate.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	var active []string
	for _, handle := range m.order {
		if m.transfers[handle].State.IsActive() {
			active = append(active, handle)
		}
	}
	m.mu.Unlock()

	for _, handle := range active {
		m.Cancel(handle)
	}

	m.mu.Lock()
	m.uploading = false
	if m.cfg.SendGate != nil {
		m.cfg.SendGate.SetUploading(false)
	}
	m.mu.Unlock()
}

// Close cancels everything, drops lingering banners and refuses further
// files.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for handle, timer := range m.timers {
		timer.Stop()
		delete(m.timers, handle)
		m.cfg.Banners.Remove(handle)
	}
	m.mu.Unlock()

	m.CancelAll()
	m.stop()
}

// Wait blocks until every transfer goroutine and background abort returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Uploading reports whether any transfer still blocks sending.
func (m *Manager) Uploading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploading
}

// Get returns a snapshot of one transfer.
func (m *Manager) Get(handle string) (Transfer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[handle]
	if !ok {
		return Transfer{}, false
	}
	return t.Transfer, true
}

// Transfers returns snapshots of every transfer in the order files were added.
func (m *Manager) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transfer, 0, len(m.order))
	for _, handle := range m.order {
		out = append(out, m.transfers[handle].Transfer)
	}
	return out
}

func (m *Manager) refreshGate() {
	active := false
	for _, t := range m.transfers {
		if t.State.IsActive() {
			active = true
			break
		}
	}
	if active == m.uploading {
		return
	}
	m.uploading = active
	if m.cfg.SendGate != nil {
		m.cfg.SendGate.SetUploading(active)
	}
}

func (m *Manager) appendTransition(pending []*events.Event, t *transfer, next State) []*events.Event {
	state, err := t.State.transition(next)
	if err != nil {
		m.logger.Error().Err(err).Str("handle", t.Handle).Msg("rejected upload transition")
		return pending
	}
	t.State = state
	return append(pending, m.stateEvent(t))
}

func (m *Manager) stateEvent(t *transfer) *events.Event {
	return events.New(events.EventTypeUploadState, events.EntityTypeSurface, string(m.cfg.Surface), events.UploadState{
		Handle: t.Handle,
		FileID: t.FileID,
		Name:   t.Name,
		State:  string(t.State),
		Sent:   t.Sent,
		Total:  t.Total,
		URL:    t.Result.URL,
		Err:    t.Err,
	})
}

func (m *Manager) publish(pending []*events.Event) {
	for _, e := range pending {
		m.cfg.Publisher.Publish(context.Background(), e)
	}
}
