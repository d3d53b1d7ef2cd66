package index

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexHash = strings.Repeat("ab", 32)

func newRun(t *testing.T, root, id, pipeline string) Record {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	core := filepath.Join(dir, "aiop.json")
	require.NoError(t, os.WriteFile(core, []byte("{}\n"), 0o644))
	return Record{
		SessionID:    id,
		ManifestHash: hexHash,
		PipelineName: pipeline,
		Status:       "completed",
		CorePath:     core,
		Timestamp:    "2024-01-01T00:00:00Z",
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "orders-etl", Slug("Orders ETL"))
	assert.Equal(t, "a-b", Slug("--a//b--"))
	assert.Equal(t, "unnamed", Slug(""))
}

func TestRecordAppendsToBothFiles(t *testing.T) {
	root := t.TempDir()
	m := &Manager{Dir: filepath.Join(root, "index"), RunsRoot: root}

	rec := newRun(t, root, "run_1", "orders")
	rec.ManifestHash = "sha256:" + hexHash
	_, err := m.Record(rec)
	require.NoError(t, err)
	_, err = m.Record(newRun(t, root, "run_2", "billing"))
	require.NoError(t, err)

	all, err := m.Runs("")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, hexHash, all[0].ManifestHash)

	orders, err := m.Runs("orders")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "run_1", orders[0].SessionID)

	latest, err := m.Latest()
	require.NoError(t, err)
	assert.Equal(t, "run_2", latest.SessionID)

	target, err := os.Readlink(filepath.Join(m.Dir, LatestLink))
	if err == nil {
		assert.Equal(t, filepath.Join(root, "run_2"), target)
	} else {
		data, err := os.ReadFile(filepath.Join(m.Dir, LatestFile))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "run_2")+"\n", string(data))
	}
}

func TestLatestWithoutRuns(t *testing.T) {
	m := &Manager{Dir: t.TempDir()}
	_, err := m.Latest()
	assert.ErrorIs(t, err, ErrNoRuns)
}

func TestRetentionPrunesOldestRunsOfPipeline(t *testing.T) {
	root := t.TempDir()
	m := &Manager{Dir: filepath.Join(root, "index"), RunsRoot: root, KeepRuns: 2}

	var pruned []Record
	for i := 1; i <= 4; i++ {
		p, err := m.Record(newRun(t, root, fmt.Sprintf("run_%d", i), "orders"))
		require.NoError(t, err)
		pruned = append(pruned, p...)
	}
	_, err := m.Record(newRun(t, root, "other_1", "billing"))
	require.NoError(t, err)

	require.Len(t, pruned, 2)
	assert.Equal(t, "run_1", pruned[0].SessionID)
	assert.Equal(t, "run_2", pruned[1].SessionID)
	assert.NoDirExists(t, filepath.Join(root, "run_1"))
	assert.NoDirExists(t, filepath.Join(root, "run_2"))
	assert.DirExists(t, filepath.Join(root, "run_3"))
	assert.DirExists(t, filepath.Join(root, "other_1"))

	all, err := m.Runs("")
	require.NoError(t, err)
	var ids []string
	for _, r := range all {
		ids = append(ids, r.SessionID)
	}
	assert.Equal(t, []string{"run_3", "run_4", "other_1"}, ids)
}

func TestRetentionCountsReexportsOnce(t *testing.T) {
	root := t.TempDir()
	m := &Manager{Dir: filepath.Join(root, "index"), RunsRoot: root, KeepRuns: 1}
	rec := newRun(t, root, "run_1", "orders")
	for i := 0; i < 3; i++ {
		pruned, err := m.Record(rec)
		require.NoError(t, err)
		assert.Empty(t, pruned)
	}
	assert.DirExists(t, filepath.Join(root, "run_1"))
}

func TestRetentionNeverLeavesRunsRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	m := &Manager{Dir: filepath.Join(root, "index"), RunsRoot: root, KeepRuns: 1}

	_, err := m.Record(newRun(t, outside, "foreign", "orders"))
	require.NoError(t, err)
	_, err = m.Record(newRun(t, root, "run_2", "orders"))
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(outside, "foreign"))
	runs, err := m.Runs("orders")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run_2", runs[0].SessionID)
}

// Legacy prefixed hashes are rewritten with a backup, and a
// dry run reports without touching the file.
func TestMigrate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ByPipelineDir), 0o755))
	untouched := `{"session_id":"a","manifest_hash":"` + hexHash + `","status":"completed"}`
	legacy := `{"session_id":"b", "manifest_hash": "sha256:` + hexHash + `", "status":"failed"}`
	runOn := `{"manifest_hash":"sha256` + hexHash + `","session_id":"c"}`
	body := untouched + "\n" + legacy + "\n" + "not json\n" + runOn + "\n"
	runs := filepath.Join(dir, RunsFile)
	require.NoError(t, os.WriteFile(runs, []byte(body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ByPipelineDir, "x.jsonl"), []byte(untouched+"\n"), 0o644))

	rep, err := Migrate(dir, true)
	require.NoError(t, err)
	assert.True(t, rep.DryRun)
	assert.Equal(t, 2, rep.Modified)
	data, err := os.ReadFile(runs)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
	assert.NoFileExists(t, runs+BackupSuffix)

	rep, err = Migrate(dir, false)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Modified)

	backup, err := os.ReadFile(runs + BackupSuffix)
	require.NoError(t, err)
	assert.Equal(t, body, string(backup))

	data, err = os.ReadFile(runs)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, untouched, lines[0])
	assert.Equal(t, `{"session_id":"b", "manifest_hash": "`+hexHash+`", "status":"failed"}`, lines[1])
	assert.Equal(t, "not json", lines[2])
	assert.Equal(t, `{"manifest_hash":"`+hexHash+`","session_id":"c"}`, lines[3])
	assert.NoFileExists(t, filepath.Join(dir, ByPipelineDir, "x.jsonl"+BackupSuffix))

	rep, err = Migrate(dir, false)
	require.NoError(t, err)
	assert.Zero(t, rep.Modified)
}
