package upload

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

type fakeTextarea struct {
	mu     sync.Mutex
	text   string
	cursor int
}

func (f *fakeTextarea) InsertAtCursor(s string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	at := f.cursor
	f.text = f.text[:at] + s + f.text[at:]
	f.cursor = at + len(s)
	return at
}

func (f *fakeTextarea) Splice(locate func(string) (int, int, bool), replacement string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	start, end, ok := locate(f.text)
	if !ok {
		return false
	}
	f.text = f.text[:start] + replacement + f.text[end:]
	switch {
	case f.cursor >= end:
		f.cursor += len(replacement) - (end - start)
	case f.cursor > start:
		f.cursor = start + len(replacement)
	}
	return true
}

func (f *fakeTextarea) Text() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text
}

func (f *fakeTextarea) Type(s string) {
	f.InsertAtCursor(s)
}

type bannerState struct {
	name     string
	percent  int
	err      string
	progress bool
}

type fakeBanners struct {
	mu      sync.Mutex
	banners map[string]*bannerState
	shown   int
	errors  []string
}

func newFakeBanners() *fakeBanners {
	return &fakeBanners{banners: make(map[string]*bannerState)}
}

func (b *fakeBanners) ShowProgress(key, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shown++
	b.banners[key] = &bannerState{name: name, progress: true}
}

func (b *fakeBanners) SetProgress(key string, percent int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.banners[key]; ok {
		s.percent = percent
	}
}

func (b *fakeBanners) ShowError(key, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errors = append(b.errors, message)
	b.banners[key] = &bannerState{err: message}
}

func (b *fakeBanners) Remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.banners, key)
}

func (b *fakeBanners) Get(key string) (bannerState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.banners[key]
	if !ok {
		return bannerState{}, false
	}
	return *s, true
}

func (b *fakeBanners) Errors() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.errors...)
}

func (b *fakeBanners) Shown() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shown
}

type fakeGate struct {
	mu        sync.Mutex
	uploading bool
	calls     int
}

func (g *fakeGate) SetUploading(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploading = v
	g.calls++
}

func (g *fakeGate) Uploading() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.uploading
}

// fakeTransport completes every transfer with a link derived from the file
// name. Files whose name is in block wait until released.
type fakeTransport struct {
	mu      sync.Mutex
	starts  []TransferRequest
	aborts  []string
	created int
	fail    map[string]error
	block   map[string]chan struct{}
	started chan string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		fail:    make(map[string]error),
		block:   make(map[string]chan struct{}),
		started: make(chan string, 64),
	}
}

func (f *fakeTransport) Block(name string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.block[name] = ch
	return ch
}

func (f *fakeTransport) Fail(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[name] = err
}

func (f *fakeTransport) Start(ctx context.Context, req TransferRequest, progress ProgressFunc) (Result, error) {
	f.mu.Lock()
	f.starts = append(f.starts, req)
	block := f.block[req.File.Name]
	failErr := f.fail[req.File.Name]
	resumeURL := req.ResumeURL
	if resumeURL == "" {
		f.created++
		resumeURL = "https://chat.example.com/api/v1/tus/" + req.Fingerprint[:12] + "-" + strconv.Itoa(f.created)
	}
	f.mu.Unlock()

	req.OnNegotiated(resumeURL)
	progress(req.File.Size/2, req.File.Size)
	f.started <- req.File.Name

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if failErr != nil {
		return Result{}, failErr
	}
	progress(req.File.Size, req.File.Size)
	name := strings.ReplaceAll(req.File.Name, " ", "_")
	return Result{URL: "/user_uploads/2/ab/" + req.Fingerprint[:6] + "/" + name, Filename: req.File.Name}, nil
}

func (f *fakeTransport) Abort(_ context.Context, resumeURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts = append(f.aborts, resumeURL)
	return nil
}

func (f *fakeTransport) Starts() []TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TransferRequest(nil), f.starts...)
}

func (f *fakeTransport) Aborts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.aborts...)
}
