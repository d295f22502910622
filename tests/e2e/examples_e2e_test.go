package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digideskio/pallet/internal/planfile"
	"github.com/digideskio/pallet/internal/store"
)

func examplesDir() string {
	return filepath.Join("..", "..", "examples")
}

func loadExample(t *testing.T, name string) *planfile.File {
	t.Helper()
	path := filepath.Join(examplesDir(), name, "pallet.json")
	file, err := planfile.Load(path)
	require.NoError(t, err, "failed to load %s", path)
	return file
}

func TestWebserverExample(t *testing.T) {
	h := newHarness(t)
	file := loadExample(t, "webserver")

	assert.Equal(t, []string{"configure", "teardown"}, file.PhaseNames())

	confDir := filepath.Join(h.dir, "conf")
	docRoot := filepath.Join(h.dir, "www")
	sess := file.Session().
		With("conf_dir", confDir).
		With("doc_root", docRoot)

	run, res := h.converge(file, "configure", sess)
	require.Nil(t, res.Err)
	assert.Equal(t, store.RunStatusCompleted, run.Status)

	conf, err := os.ReadFile(filepath.Join(confDir, "site.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(conf), "server_name demo.local;")
	assert.Contains(t, string(conf), "listen 8080;")

	index, err := os.ReadFile(filepath.Join(docRoot, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(index), "demo.local")

	// enable_status_page defaults to true, so the then branch ran.
	assert.FileExists(t, filepath.Join(docRoot, "status.html"))
}

func TestWebserverExampleStatusPageDisabled(t *testing.T) {
	h := newHarness(t)
	file := loadExample(t, "webserver")

	docRoot := filepath.Join(h.dir, "www")
	sess := file.Session().
		With("conf_dir", filepath.Join(h.dir, "conf")).
		With("doc_root", docRoot).
		With("enable_status_page", false)

	_, res := h.converge(file, "configure", sess)
	require.Nil(t, res.Err)
	assert.NoFileExists(t, filepath.Join(docRoot, "status.html"))
}

func TestNightlyBackupExample(t *testing.T) {
	h := newHarness(t)
	file := loadExample(t, "nightly-backup")

	sourceDir := filepath.Join(h.dir, "data")
	archiveDir := filepath.Join(h.dir, "archives")
	require.NoError(t, os.MkdirAll(sourceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "db.dump"), []byte("data"), 0o644))

	sess := file.Session().
		With("source_dir", sourceDir).
		With("archive_dir", archiveDir)

	run, res := h.converge(file, "backup", sess)
	require.Nil(t, res.Err)
	assert.Equal(t, store.RunStatusCompleted, run.Status)

	assert.FileExists(t, filepath.Join(archiveDir, "backup.tar.gz"))
	assert.FileExists(t, filepath.Join(archiveDir, "last-run.txt"))

	events, err := h.store.ListActionEvents(context.Background(), run.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}
