package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trans/memo/internal/errs"
)

func TestDefaults_FillsUnsetFields(t *testing.T) {
	p := Params{}.Defaults()
	assert.Equal(t, 2000, p.ChunkingMaxTokens)
	assert.Equal(t, 100, p.BatchSize)
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, "fts5", p.TextBackend)
}

func TestDefaults_DoesNotOverrideSetFields(t *testing.T) {
	p := Params{ChunkingMaxTokens: 500}.Defaults()
	assert.Equal(t, 500, p.ChunkingMaxTokens)
}

func TestValidate_RequiresDataDir(t *testing.T) {
	err := Params{}.Validate(1000)
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.CodeInvalidParams, e.Code)
}

func TestValidate_RequiresAPIKeyForOpenAIFamily(t *testing.T) {
	p := Params{DataDir: "/tmp/x", Format: "openai"}
	err := p.Validate(1000)
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.CodeMissingAPIKey, e.Code)
}

func TestValidate_ChunkingExceedsMax(t *testing.T) {
	p := Params{DataDir: "/tmp/x", ChunkingMaxTokens: 5000}
	err := p.Validate(1000)
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.CodeChunkingExceedsMax, e.Code)
}

func TestValidate_OK(t *testing.T) {
	p := Params{DataDir: "/tmp/x", Format: "mock", ChunkingMaxTokens: 500}
	assert.NoError(t, p.Validate(1000))
}

func TestLoadOverlay_MissingFileReturnsBaseUnchanged(t *testing.T) {
	base := Params{DataDir: "/tmp/x"}
	out, err := LoadOverlay(base, filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, base, out)
}

func TestLoadOverlay_MergesNonZeroFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /overridden\nbatch_size: 50\n"), 0o644))

	base := Params{DataDir: "/original", BatchSize: 100}
	out, err := LoadOverlay(base, path)
	require.NoError(t, err)
	assert.Equal(t, "/overridden", out.DataDir)
	assert.Equal(t, 50, out.BatchSize)
}
