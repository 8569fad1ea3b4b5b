package composebox

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/fcompose/internal/config"
	"github.com/tOgg1/fcompose/internal/drafts"
	"github.com/tOgg1/fcompose/internal/events"
	"github.com/tOgg1/fcompose/internal/kvstore"
	"github.com/tOgg1/fcompose/internal/upload"
)

func TestBox_Session(t *testing.T) {
	b := New()
	_, open := b.Session()
	require.False(t, open)

	b.OpenStream(5, "lunch")
	b.Type("where to?")
	state, open := b.Session()
	require.True(t, open)
	assert.Equal(t, drafts.ComposeState{Type: drafts.TypeStream, Content: "where to?", StreamID: 5, Topic: "lunch"}, state)

	b.BindDraft("d1")
	b.Close()
	assert.Empty(t, b.DraftID())
	assert.False(t, b.IsOpen())
}

func TestBox_InsertAndSplice(t *testing.T) {
	b := New()
	b.OpenPrivate("a@x.com")
	b.SetText("hello world")
	b.SetCursor(5)

	at := b.InsertAtCursor(",")
	assert.Equal(t, 5, at)
	assert.Equal(t, "hello, world", b.Text())
	assert.Equal(t, 6, b.Cursor())

	ok := b.Splice(func(text string) (int, int, bool) {
		i := strings.Index(text, "world")
		return i, i + len("world"), i >= 0
	}, "there")
	require.True(t, ok)
	assert.Equal(t, "hello, there", b.Text())
	assert.Equal(t, 6, b.Cursor(), "cursor before the splice does not move")

	b.SetCursor(100)
	assert.Equal(t, len(b.Text()), b.Cursor())
	assert.False(t, b.Splice(func(string) (int, int, bool) { return 0, 0, false }, "x"))
}

func TestBox_StartAndSendGate(t *testing.T) {
	b := New()
	b.Start(drafts.ComposeArgs{Type: drafts.TypeStream, Content: "restored", StreamID: 7, StreamName: "design", Topic: "logo", DraftID: "d9"})
	assert.Equal(t, "restored", b.Text())
	assert.Equal(t, "design", b.StreamName())
	assert.Equal(t, "d9", b.DraftID())
	assert.True(t, b.CanSend())

	b.SetUploading(true)
	assert.False(t, b.CanSend())
}

func TestStreams(t *testing.T) {
	s, err := StreamsFromConfig(map[string]string{"5": "lunch-club", " 7 ": "Design"})
	require.NoError(t, err)

	name, ok := s.StreamName(7)
	require.True(t, ok)
	assert.Equal(t, "Design", name)

	id, ok := s.Lookup("design")
	require.True(t, ok)
	assert.Equal(t, int64(7), id)
	id, ok = s.Lookup("12")
	require.True(t, ok)
	assert.Equal(t, int64(12), id)
	_, ok = s.Lookup("nope")
	assert.False(t, ok)

	_, err = StreamsFromConfig(map[string]string{"x": "bad"})
	require.Error(t, err)
}

func TestNarrow_RoundTrip(t *testing.T) {
	n := NewNarrow(config.NewNarrowStore(filepath.Join(t.TempDir(), "narrow.yaml")))
	assert.Equal(t, drafts.NarrowContext{}, n.Current())

	n.NarrowTo(drafts.ComposeArgs{Type: drafts.TypeStream, StreamID: 5, StreamName: "lunch-club", Topic: "tacos"})
	assert.Equal(t, drafts.NarrowContext{StreamID: 5, Topic: "tacos"}, n.Current())

	n.NarrowTo(drafts.ComposeArgs{Type: drafts.TypePrivate, PrivateMessageRecipient: "a@x.com"})
	assert.Equal(t, drafts.NarrowContext{Recipients: "a@x.com"}, n.Current())

	require.NoError(t, n.Clear())
	assert.Equal(t, drafts.NarrowContext{}, n.Current())
}

func TestBanners_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	b := NewBanners(&buf)

	b.ShowProgress("k1", "a.png")
	b.SetProgress("k1", 50)
	b.SetProgress("k1", 50)
	b.ShowError("k2", "b.png is too large.")

	assert.Equal(t, []string{"Uploading a.png… [##########----------]  50%", "✗ b.png is too large."}, b.Visible())
	b.Remove("k1")
	assert.Len(t, b.Visible(), 1)

	out := buf.String()
	assert.Equal(t, 3, strings.Count(out, "\n"))
	assert.NotContains(t, out, "\x1b[", "no styling when not a terminal")
}

func TestBanners_WatchNotices(t *testing.T) {
	var buf bytes.Buffer
	b := NewBanners(&buf)
	pub := events.NewInMemoryPublisher()
	require.NoError(t, b.WatchNotices(pub, "notices"))

	model := drafts.NewModel(kvstore.NewMemoryStore(), drafts.WithPublisher(pub))
	model.AddDraft(drafts.Draft{Type: drafts.TypeStream, Content: "hello"})
	drafts.PublishNotifier(pub).DraftSaved("x")

	assert.Contains(t, buf.String(), "Drafts (1)")
	assert.Contains(t, buf.String(), "Saved as draft")
}

type stubTransport struct{}

func (stubTransport) Start(_ context.Context, req upload.TransferRequest, progress upload.ProgressFunc) (upload.Result, error) {
	req.OnNegotiated("https://chat.example.com/api/v1/tus/1")
	progress(req.File.Size, req.File.Size)
	return upload.Result{URL: "/user_uploads/1/" + req.File.Name, Filename: req.File.Name}, nil
}

func (stubTransport) Abort(context.Context, string) error { return nil }

func TestBox_DraftAndUploadEndToEnd(t *testing.T) {
	pub := events.NewInMemoryPublisher()
	box := New()
	var out bytes.Buffer
	banners := NewBanners(&out)

	model := drafts.NewModel(kvstore.NewMemoryStore(), drafts.WithPublisher(pub))
	lc := drafts.NewLifecycle(model, drafts.Collaborators{
		Composer: box,
		Narrower: NewNarrow(config.NewNarrowStore(filepath.Join(t.TempDir(), "narrow.yaml"))),
		Streams:  Streams{5: "lunch-club"},
		Notifier: drafts.PublishNotifier(pub),
	})

	registry := upload.NewRegistry(upload.RegistryConfig{
		Transport:     stubTransport{},
		MaxFileSize:   1 << 20,
		MaxConcurrent: 2,
	}, pub)
	defer registry.Close()
	m, err := registry.SetupUpload(upload.SurfaceConfig{Mode: upload.ModeCompose, Textarea: box, Banners: banners, SendGate: box})
	require.NoError(t, err)

	box.OpenStream(5, "lunch")
	box.Type("menu: ")
	upload.PublishFiles(context.Background(), pub, upload.ComposeSurface, upload.NewFileFromBytes("menu.pdf", "application/pdf", []byte("%PDF")))
	require.Eventually(t, func() bool {
		trs := m.Transfers()
		return len(trs) == 1 && trs[0].State == upload.StateSucceeded
	}, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, "menu: [menu.pdf](/user_uploads/1/menu.pdf)", box.Text())
	assert.True(t, box.CanSend())

	id := lc.UpdateDraft(drafts.UpdateOptions{})
	require.NotEmpty(t, id)
	box.Close()

	require.True(t, lc.RestoreDraft(id))
	assert.Equal(t, "menu: [menu.pdf](/user_uploads/1/menu.pdf)", box.Text())
	assert.Equal(t, "lunch-club", box.StreamName())
	assert.Equal(t, id, box.DraftID())
}
