package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/fcompose/internal/drafts"
	"github.com/tOgg1/fcompose/internal/kvstore"
	"github.com/tOgg1/fcompose/internal/upload"
)

type testEnv struct {
	dir        string
	configPath string
	storePath  string
}

func newTestEnv(t *testing.T, extra string) testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	env := testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		storePath:  filepath.Join(dir, "data", "store.json"),
	}
	cfg := fmt.Sprintf(`
global:
  data_dir: %s
  config_dir: %s
store:
  backend: file
  path: %s
logging:
  level: error
  format: json
streams:
  "5": lunch-club
  "7": design
%s`, filepath.Join(dir, "data"), filepath.Join(dir, "conf"), env.storePath, extra)
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o644))
	return env
}

func (e testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runWithInput(t, "", args...)
}

func (e testEnv) runWithInput(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	a := &app{logger: zerolog.Nop()}
	root := newRootCmd(a, "test")
	root.SetIn(strings.NewReader(stdin))
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := root.Execute()
	require.NoError(t, a.close())
	return out.String(), err
}

func (e testEnv) app(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	a := &app{logger: zerolog.Nop()}
	a.opts.configFile = e.configPath
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, a.setup(cmd))
	t.Cleanup(func() { _ = a.close() })
	return a, &out
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd(&app{}, "dev")
	for _, path := range [][]string{
		{"draft", "save"}, {"drafts", "ls"}, {"draft", "show"}, {"draft", "restore"},
		{"draft", "rm"}, {"draft", "delete-all"}, {"draft", "gc"}, {"draft", "rename"},
		{"narrow", "set"}, {"narrow", "clear"}, {"upload"},
	} {
		found, _, err := root.Find(path)
		require.NoError(t, err, strings.Join(path, " "))
		require.NotEqual(t, root, found, strings.Join(path, " "))
	}
}

func TestDraftSaveShowList(t *testing.T) {
	env := newTestEnv(t, "")

	id, err := env.run(t, "draft", "save", "--stream", "lunch-club", "--topic", "tacos", "anyone", "hungry?")
	require.NoError(t, err)
	id = strings.TrimSpace(id)
	require.NotEmpty(t, id)

	out, err := env.run(t, "--json", "draft", "show", id)
	require.NoError(t, err)
	var view draftView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "anyone hungry?", view.Content)
	assert.Equal(t, int64(5), view.StreamID)
	assert.Equal(t, "lunch-club", view.StreamName)
	assert.Equal(t, "tacos", view.Topic)

	_, err = env.run(t, "draft", "save", "--to", "bob@example.com", "ping me")
	require.NoError(t, err)

	out, err = env.run(t, "--json", "draft", "list")
	require.NoError(t, err)
	var views []draftView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)

	out, err = env.run(t, "--yaml", "draft", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "stream_name: lunch-club")
}

func TestDraftSave_UpdatesExisting(t *testing.T) {
	env := newTestEnv(t, "")

	id, err := env.run(t, "draft", "save", "--stream", "5", "--topic", "t", "first")
	require.NoError(t, err)
	id = strings.TrimSpace(id)

	again, err := env.run(t, "draft", "save", "--id", id, "--stream", "5", "--topic", "t", "second")
	require.NoError(t, err)
	assert.Equal(t, id, strings.TrimSpace(again))

	out, err := env.run(t, "draft", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "second")
	assert.Contains(t, out, "#lunch-club > t")

	_, err = env.run(t, "draft", "save", "--id", "missing", "x y z")
	require.ErrorIs(t, err, drafts.ErrNotFound)
}

func TestDraftSave_Rejects(t *testing.T) {
	env := newTestEnv(t, "")

	_, err := env.run(t, "draft", "save", "--stream", "lunch-club", "ok")
	require.ErrorContains(t, err, "nothing to save")

	_, err = env.run(t, "draft", "save", "--stream", "nope", "hello there")
	require.ErrorContains(t, err, "unknown stream")

	_, err = env.run(t, "draft", "save", "--to", "a@x.com", "--topic", "t", "hello there")
	require.Error(t, err)

	_, err = env.run(t, "--json", "--yaml", "draft", "list")
	require.Error(t, err)
}

func TestDraftCompose_SavesStdin(t *testing.T) {
	env := newTestEnv(t, "")

	id, err := env.runWithInput(t, "first line\nsecond line\n", "draft", "compose", "--to", "a@x.com,b@x.com")
	require.NoError(t, err)
	id = strings.TrimSpace(id)
	require.NotEmpty(t, id)

	out, err := env.run(t, "--json", "draft", "show", id)
	require.NoError(t, err)
	var view draftView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "first line\nsecond line", view.Content)
	assert.Equal(t, "a@x.com,b@x.com", view.Recipients)

	_, err = env.runWithInput(t, "x\n", "draft", "compose", "--stream", "design")
	require.ErrorContains(t, err, "nothing to save")
}

func TestDraftList_GroupsByNarrow(t *testing.T) {
	env := newTestEnv(t, "")

	_, err := env.run(t, "draft", "save", "--stream", "lunch-club", "--topic", "Tacos", "tacos on friday")
	require.NoError(t, err)
	_, err = env.run(t, "draft", "save", "--stream", "design", "--topic", "logo", "new logo draft")
	require.NoError(t, err)

	_, err = env.run(t, "narrow", "set", "--stream", "lunch-club", "--topic", "tacos")
	require.NoError(t, err)

	out, err := env.run(t, "draft", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Drafts for channel:lunch-club topic:tacos")
	assert.Contains(t, out, "Other drafts")
	relevant, other, ok := strings.Cut(out, "Other drafts")
	require.True(t, ok)
	assert.Contains(t, relevant, "tacos on friday")
	assert.Contains(t, other, "new logo draft")

	_, err = env.run(t, "narrow", "clear")
	require.NoError(t, err)
	out, err = env.run(t, "draft", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "Other drafts")
	assert.Contains(t, out, "ID")
}

func TestDraftList_Empty(t *testing.T) {
	env := newTestEnv(t, "")
	out, err := env.run(t, "draft", "list")
	require.NoError(t, err)
	assert.Equal(t, "No drafts.\n", out)
}

func TestDraftRestore_NarrowsToDestination(t *testing.T) {
	env := newTestEnv(t, "")

	id, err := env.run(t, "draft", "save", "--stream", "design", "--topic", "logo", "new logo draft")
	require.NoError(t, err)
	id = strings.TrimSpace(id)

	out, err := env.run(t, "draft", "restore", id)
	require.NoError(t, err)
	assert.Equal(t, "Restored to #design > logo\n\nnew logo draft\n", out)

	out, err = env.run(t, "narrow")
	require.NoError(t, err)
	assert.Equal(t, "channel:design topic:logo\n", out)

	_, err = env.run(t, "draft", "restore", "missing")
	require.ErrorIs(t, err, drafts.ErrNotFound)
}

func TestDraftRestore_IncompleteDestinationKeepsNarrow(t *testing.T) {
	env := newTestEnv(t, "")

	id, err := env.run(t, "draft", "save", "no destination yet")
	require.NoError(t, err)

	out, err := env.run(t, "draft", "restore", strings.TrimSpace(id))
	require.NoError(t, err)
	assert.Contains(t, out, "(no stream)")

	out, err = env.run(t, "narrow")
	require.NoError(t, err)
	assert.Equal(t, "(all messages)\n", out)
}

func TestDraftDelete(t *testing.T) {
	env := newTestEnv(t, "")

	id, err := env.run(t, "draft", "save", "--to", "a@x.com", "hello there")
	require.NoError(t, err)

	_, err = env.run(t, "draft", "delete", strings.TrimSpace(id), "missing")
	require.NoError(t, err)

	out, err := env.run(t, "draft", "list")
	require.NoError(t, err)
	assert.Equal(t, "No drafts.\n", out)
}

func TestDraftDeleteAll_RequiresConfirmation(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run(t, "draft", "save", "--to", "a@x.com", "hello there")
	require.NoError(t, err)

	_, err = env.run(t, "draft", "delete-all")
	require.ErrorContains(t, err, "--yes")

	out, err := env.run(t, "--json", "draft", "delete-all", "--yes")
	require.NoError(t, err)
	assert.JSONEq(t, `{"remaining":0}`, out)
}

func TestDraftGC_RemovesExpired(t *testing.T) {
	env := newTestEnv(t, "")

	require.NoError(t, os.MkdirAll(filepath.Dir(env.storePath), 0o755))
	store := kvstore.NewFileStore(env.storePath)
	old := time.Now().Add(-31 * 24 * time.Hour)
	seed := drafts.NewModel(store, drafts.WithClock(func() time.Time { return old }))
	seed.AddDraft(drafts.Draft{Type: drafts.TypePrivate, Content: "ancient", PrivateMessageRecipient: "a@x.com"})
	fresh := drafts.NewModel(store)
	freshID := fresh.AddDraft(drafts.Draft{Type: drafts.TypePrivate, Content: "recent", PrivateMessageRecipient: "a@x.com"})
	require.NoError(t, store.Close())

	out, err := env.run(t, "--json", "draft", "gc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"removed":1,"max_age":"720h0m0s"}`, out)

	out, err = env.run(t, "--json", "draft", "list")
	require.NoError(t, err)
	var views []draftView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, freshID, views[0].ID)
}

func TestDraftRename(t *testing.T) {
	env := newTestEnv(t, "")

	id, err := env.run(t, "draft", "save", "--stream", "lunch-club", "--topic", "tacos", "tacos on friday")
	require.NoError(t, err)
	id = strings.TrimSpace(id)

	out, err := env.run(t, "draft", "rename", "--old-stream", "lunch-club", "--old-topic", "tacos", "--new-stream", "design", "--new-topic", "burritos")
	require.NoError(t, err)
	assert.Equal(t, "rewrote 1 drafts\n", out)

	out, err = env.run(t, "draft", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "#design > burritos")

	_, err = env.run(t, "draft", "rename", "--old-stream", "design", "--old-topic", "burritos")
	require.ErrorContains(t, err, "nothing to rename")
}

type stubTransport struct{}

func (stubTransport) Start(_ context.Context, req upload.TransferRequest, progress upload.ProgressFunc) (upload.Result, error) {
	progress(req.File.Size, req.File.Size)
	return upload.Result{URL: "/user_uploads/2/" + req.File.Name, Filename: req.File.Name}, nil
}

func (stubTransport) Abort(context.Context, string) error { return nil }

func TestUpload_WritesLinksIntoText(t *testing.T) {
	env := newTestEnv(t, "")
	path := filepath.Join(env.dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	a, out := env.app(t)
	require.NoError(t, a.runUpload(context.Background(), stubTransport{}, 0, "see ", []string{path}))
	assert.Equal(t, "see [notes.txt](/user_uploads/2/notes.txt)\n", out.String())
	assert.True(t, a.box.CanSend())
}

func TestUpload_EditRowJSONReport(t *testing.T) {
	env := newTestEnv(t, "")
	path := filepath.Join(env.dir, "a.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o644))

	a, out := env.app(t)
	a.opts.jsonOutput = true
	require.NoError(t, a.runUpload(context.Background(), stubTransport{}, 42, "", []string{path}))

	var report uploadReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "42", report.Surface)
	require.Len(t, report.Transfers, 1)
	assert.Equal(t, "succeeded", report.Transfers[0].State)
	assert.Equal(t, "4 B", report.Transfers[0].Size)
}

func TestUpload_DisabledReportsFailure(t *testing.T) {
	env := newTestEnv(t, "uploads:\n  max_file_upload_size_mib: 0\n")
	path := filepath.Join(env.dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	a, out := env.app(t)
	err := a.runUpload(context.Background(), stubTransport{}, 0, "x", []string{path})
	require.ErrorContains(t, err, "1 of 1 uploads did not complete")
	assert.Equal(t, "x\n", out.String())
}

func TestUpload_RequiresEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	path := filepath.Join(env.dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	_, err := env.run(t, "upload", path)
	require.ErrorContains(t, err, "uploads.tus.endpoint")
}

func TestTableRender_AlignsWideRunes(t *testing.T) {
	tbl := newTable("ID", "TO")
	tbl.add("a", "#設計")
	tbl.add("bbbb", "\x1b[1m#x\x1b[0m")

	var buf bytes.Buffer
	require.NoError(t, tbl.render(&buf))
	assert.Equal(t, "ID    TO\na     #設計\nbbbb  \x1b[1m#x\x1b[0m\n", buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "x", truncate("x", 0))
}
