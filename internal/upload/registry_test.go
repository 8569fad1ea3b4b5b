package upload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/fcompose/internal/events"
)

func newTestRegistry(t *testing.T) (*Registry, *events.InMemoryPublisher, *fakeTransport) {
	t.Helper()
	pub := events.NewInMemoryPublisher()
	transport := newFakeTransport()
	r := NewRegistry(RegistryConfig{
		Transport:     transport,
		MaxFileSize:   100 * mib,
		MaxConcurrent: 2,
	}, pub)
	t.Cleanup(r.Close)
	return r, pub, transport
}

func surface(mode Mode, row int64) (SurfaceConfig, *fakeTextarea) {
	ta := &fakeTextarea{}
	return SurfaceConfig{Mode: mode, RowID: row, Textarea: ta, Banners: newFakeBanners(), SendGate: &fakeGate{}}, ta
}

func TestRegistry_ComposeSurfaceCreatedOnce(t *testing.T) {
	r, pub, _ := newTestRegistry(t)
	sc, _ := surface(ModeCompose, 0)

	first, err := r.SetupUpload(sc)
	require.NoError(t, err)
	second, err := r.SetupUpload(sc)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, r.Surfaces())
	assert.Equal(t, 1, pub.SubscriberCount())
}

func TestRegistry_EditRowsAreIsolated(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	compose, composeText := surface(ModeCompose, 0)
	edit, editText := surface(ModeEdit, 42)

	cm, err := r.SetupUpload(compose)
	require.NoError(t, err)
	em, err := r.SetupUpload(edit)
	require.NoError(t, err)
	require.NotSame(t, cm, em)

	got, ok := r.Lookup(EditSurface(42))
	require.True(t, ok)
	assert.Same(t, em, got)
	assert.Equal(t, SurfaceKey("42"), em.Surface())

	res := em.AddFiles(NewFileFromBytes("diff.patch", "text/x-diff", []byte("--- a\n+++ b\n")))[0]
	require.Eventually(t, func() bool {
		tr, _ := em.Get(res.Handle)
		return tr.State == StateSucceeded
	}, 2*time.Second, 2*time.Millisecond)

	assert.Contains(t, editText.Text(), "[diff.patch](")
	assert.Empty(t, composeText.Text())
}

func TestRegistry_FilesAddedRoutesBySurface(t *testing.T) {
	r, pub, transport := newTestRegistry(t)
	compose, composeText := surface(ModeCompose, 0)
	edit, editText := surface(ModeEdit, 7)
	_, err := r.SetupUpload(compose)
	require.NoError(t, err)
	em, err := r.SetupUpload(edit)
	require.NoError(t, err)

	PublishFiles(context.Background(), pub, EditSurface(7), NewFileFromBytes("a.txt", "text/plain", []byte("for row 7")))

	require.Eventually(t, func() bool {
		trs := em.Transfers()
		return len(trs) == 1 && trs[0].State == StateSucceeded
	}, 2*time.Second, 2*time.Millisecond)
	assert.Contains(t, editText.Text(), "[a.txt](")
	assert.Empty(t, composeText.Text())
	assert.Len(t, transport.Starts(), 1)
}

func TestRegistry_DeactivateIsIdempotent(t *testing.T) {
	r, pub, transport := newTestRegistry(t)
	edit, editText := surface(ModeEdit, 9)
	m, err := r.SetupUpload(edit)
	require.NoError(t, err)

	release := transport.Block("slow.bin")
	defer close(release)
	res := m.AddFiles(NewFileFromBytes("slow.bin", "", []byte("slow")))[0]

	r.DeactivateUpload(edit)
	r.DeactivateUpload(edit)
	r.DeactivateUpload(SurfaceConfig{Mode: ModeEdit, RowID: 1234})

	_, ok := r.Lookup(EditSurface(9))
	assert.False(t, ok)
	assert.Zero(t, pub.SubscriberCount())

	tr, _ := m.Get(res.Handle)
	assert.Equal(t, StateCancelled, tr.State)
	assert.Empty(t, editText.Text())

	PublishFiles(context.Background(), pub, EditSurface(9), NewFileFromBytes("x.txt", "", []byte("ignored")))
	assert.Len(t, m.Transfers(), 1)
}

func TestRegistry_EditRowSetupReplacesInstance(t *testing.T) {
	r, pub, _ := newTestRegistry(t)
	edit, _ := surface(ModeEdit, 3)
	first, err := r.SetupUpload(edit)
	require.NoError(t, err)
	second, err := r.SetupUpload(edit)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 1, pub.SubscriberCount())
	res := first.AddFiles(NewFileFromBytes("late.txt", "", []byte("late")))[0]
	assert.ErrorIs(t, res.Err, ErrManagerClosed)
}

func TestRegistry_SharedResumeCache(t *testing.T) {
	r, _, transport := newTestRegistry(t)
	compose, composeText := surface(ModeCompose, 0)
	edit, editText := surface(ModeEdit, 5)
	cm, _ := r.SetupUpload(compose)
	em, _ := r.SetupUpload(edit)

	data := []byte("identical bytes")
	first := cm.AddFiles(NewFileFromBytes("same.txt", "text/plain", data))[0]
	require.Eventually(t, func() bool {
		tr, _ := cm.Get(first.Handle)
		return tr.State == StateSucceeded
	}, 2*time.Second, 2*time.Millisecond)

	second := em.AddFiles(NewFileFromBytes("same.txt", "text/plain", data))[0]
	tr, _ := em.Get(second.Handle)
	assert.Equal(t, StateSucceeded, tr.State)
	assert.Len(t, transport.Starts(), 1)
	assert.Equal(t, composeText.Text(), editText.Text())
}

func TestRegistry_InvalidSurface(t *testing.T) {
	r, pub, _ := newTestRegistry(t)
	_, err := r.SetupUpload(SurfaceConfig{Mode: ModeCompose})
	require.ErrorIs(t, err, ErrInvalidSurface)
	assert.Zero(t, pub.SubscriberCount())
}

func TestSurfaceConfig_Key(t *testing.T) {
	assert.Equal(t, ComposeSurface, SurfaceConfig{Mode: ModeCompose}.Key())
	assert.Equal(t, SurfaceKey("17"), SurfaceConfig{Mode: ModeEdit, RowID: 17}.Key())
}

func TestRegistry_CancelLeavesOtherSurfaceTransferAlone(t *testing.T) {
	r, _, transport := newTestRegistry(t)
	compose, _ := surface(ModeCompose, 0)
	edit, editText := surface(ModeEdit, 9)
	cm, err := r.SetupUpload(compose)
	require.NoError(t, err)
	em, err := r.SetupUpload(edit)
	require.NoError(t, err)

	release := transport.Block("big.bin")
	composeRes := cm.AddFiles(NewFileFromBytes("big.bin", "", []byte("payload")))[0]
	<-transport.started
	composeURL := func() string {
		tr, _ := cm.Get(composeRes.Handle)
		return tr.ResumeURL
	}()
	require.NotEmpty(t, composeURL)

	editRes := em.AddFiles(NewFileFromBytes("big.bin", "", []byte("payload")))[0]
	<-transport.started
	editTr, _ := em.Get(editRes.Handle)
	require.Equal(t, StateUploading, editTr.State)

	starts := transport.Starts()
	require.Len(t, starts, 2)
	assert.Empty(t, starts[1].ResumeURL, "a URL compose still writes to is not resumed")
	assert.NotEqual(t, composeURL, editTr.ResumeURL)

	require.True(t, cm.Cancel(composeRes.Handle))
	cm.Wait()
	assert.Equal(t, []string{composeURL}, transport.Aborts())
	editTr, _ = em.Get(editRes.Handle)
	assert.Equal(t, StateUploading, editTr.State)

	close(release)
	require.Eventually(t, func() bool {
		tr, _ := em.Get(editRes.Handle)
		return tr.State == StateSucceeded
	}, 2*time.Second, 2*time.Millisecond)
	assert.Contains(t, editText.Text(), "[big.bin](")
}
