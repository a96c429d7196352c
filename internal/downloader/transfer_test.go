package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volume-drain/internal/domain"
	"volume-drain/internal/storage"
)

func listAll(t *testing.T, store *memStore, prefix string) []storage.ObjectInfo {
	t.Helper()
	logger, _ := newTestLogger()
	objects, err := NewLister(store, logger).List(context.Background(), prefix)
	require.NoError(t, err)
	return objects
}

func readLocal(t *testing.T, mirror *storage.LocalMirror, key string) string {
	t.Helper()
	p, err := mirror.Path(key)
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(data)
}

func TestTransferDownloadsAndRemoves(t *testing.T) {
	logger, _ := newTestLogger()
	store := newMemStore("out/a.png", "out/video/b.mp4")
	mirror := newMirror(t)

	report, err := NewTransfer(store, mirror, logger).Process(context.Background(), listAll(t, store, "out/"))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Found)
	assert.Equal(t, 2, report.Processed)
	assert.Zero(t, report.NotRemoved)
	assert.Zero(t, report.DownloadFailed)
	assert.Equal(t, int64(len("content of out/a.png")+len("content of out/video/b.mp4")), report.Bytes)

	assert.Equal(t, "content of out/a.png", readLocal(t, mirror, "out/a.png"))
	assert.Equal(t, "content of out/video/b.mp4", readLocal(t, mirror, "out/video/b.mp4"))
	assert.False(t, store.has("out/a.png"))
	assert.False(t, store.has("out/video/b.mp4"))
}

func TestTransferDeletesOnlyAfterDownload(t *testing.T) {
	logger, _ := newTestLogger()
	store := newMemStore("x.txt")
	mirror := newMirror(t)

	_, err := NewTransfer(store, mirror, logger).Process(context.Background(), listAll(t, store, ""))
	require.NoError(t, err)

	store.mu.Lock()
	calls := append([]string(nil), store.calls...)
	store.mu.Unlock()
	assert.Equal(t, []string{"list ", "download x.txt", "delete x.txt"}, calls)
}

func TestTransferDownloadFailureKeepsRemote(t *testing.T) {
	logger, hook := newTestLogger()
	store := newMemStore("out/broken.bin", "out/fine.bin")
	store.downloadErrs["out/broken.bin"] = errors.New("unexpected EOF")
	mirror := newMirror(t)

	report, err := NewTransfer(store, mirror, logger).Process(context.Background(), listAll(t, store, "out/"))
	require.NoError(t, err)

	assert.Equal(t, 1, report.DownloadFailed)
	assert.Equal(t, 1, report.Processed)
	assert.True(t, store.has("out/broken.bin"))
	assert.NotContains(t, store.recorded("delete"), "out/broken.bin")

	_, statErr := os.Stat(filepath.Join(mirror.Root(), "out", "broken.bin"))
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, "content of out/fine.bin", readLocal(t, mirror, "out/fine.bin"))
	assert.True(t, hasMessage(hook, logrus.WarnLevel, "skipping removal due to download failure"))

	var sawOp bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Data["op"] == "download" && e.Data["key"] == "out/broken.bin" {
			sawOp = true
		}
	}
	assert.True(t, sawOp)
}

func TestTransferDeleteFailureKeepsLocalCopy(t *testing.T) {
	logger, hook := newTestLogger()
	store := newMemStore("out/a.txt")
	store.failDelete["out/a.txt"] = 1
	mirror := newMirror(t)
	transfer := NewTransfer(store, mirror, logger)

	report, err := transfer.Process(context.Background(), listAll(t, store, "out/"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.NotRemoved)
	assert.Zero(t, report.Processed)
	assert.True(t, store.has("out/a.txt"))
	assert.Equal(t, "content of out/a.txt", readLocal(t, mirror, "out/a.txt"))
	assert.True(t, hasMessage(hook, logrus.WarnLevel, "file downloaded but not removed from remote"))

	// the object is listed again and the local copy overwritten
	store.mu.Lock()
	store.objects["out/a.txt"] = "v2"
	store.mu.Unlock()

	report, err = transfer.Process(context.Background(), listAll(t, store, "out/"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.False(t, store.has("out/a.txt"))
	assert.Equal(t, "v2", readLocal(t, mirror, "out/a.txt"))
}

func TestTransferInvalidKeyIsDownloadFailure(t *testing.T) {
	logger, _ := newTestLogger()
	store := newMemStore("out//odd.txt", "out/ok.txt")
	mirror := newMirror(t)

	objects := []storage.ObjectInfo{{Key: "out//odd.txt"}, {Key: "out/ok.txt"}}
	report, err := NewTransfer(store, mirror, logger).Process(context.Background(), objects)
	require.NoError(t, err)

	assert.Equal(t, 1, report.DownloadFailed)
	assert.Equal(t, 1, report.Processed)
	assert.True(t, store.has("out//odd.txt"))
	assert.NotContains(t, store.recorded("download"), "out//odd.txt")
}

func TestTransferRootUnavailableIsFatal(t *testing.T) {
	logger, _ := newTestLogger()
	store := newMemStore("a.txt", "b.txt")
	mirror := newMirror(t)

	require.NoError(t, os.RemoveAll(mirror.Root()))
	require.NoError(t, os.WriteFile(mirror.Root(), []byte("file"), 0o644))

	report, err := NewTransfer(store, mirror, logger).Process(context.Background(), listAll(t, store, ""))
	require.ErrorIs(t, err, storage.ErrRootUnavailable)
	assert.Zero(t, report.Processed)
	assert.True(t, store.has("a.txt"))
	assert.True(t, store.has("b.txt"))
	assert.Empty(t, store.recorded("delete"))
}

func TestTransferStopsOnCancel(t *testing.T) {
	logger, _ := newTestLogger()
	store := newMemStore("a.txt", "b.txt")
	mirror := newMirror(t)
	objects := listAll(t, store, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewTransfer(store, mirror, logger).Process(ctx, objects)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, report.Found)
	assert.Zero(t, report.Processed)
	assert.Empty(t, store.recorded("download"))
}

func TestCycleReportRecord(t *testing.T) {
	var r domain.CycleReport
	r.Record(domain.OutcomeRemoved, 10)
	r.Record(domain.OutcomeNotRemoved, 5)
	r.Record(domain.OutcomeDownloadFailed, 0)

	assert.Equal(t, 1, r.Processed)
	assert.Equal(t, 1, r.NotRemoved)
	assert.Equal(t, 1, r.DownloadFailed)
	assert.Equal(t, int64(15), r.Bytes)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512B", formatBytes(512))
	assert.Equal(t, "1.0KiB", formatBytes(1024))
	assert.Equal(t, "1.5MiB", formatBytes(3<<19))
}

func TestTransferLocalDirectoryConflict(t *testing.T) {
	logger, _ := newTestLogger()
	store := newMemStore("out/a.txt", "b.txt")
	mirror := newMirror(t)
	require.NoError(t, os.WriteFile(filepath.Join(mirror.Root(), "out"), []byte("a file"), 0o644))

	report, err := NewTransfer(store, mirror, logger).Process(context.Background(), listAll(t, store, ""))
	require.NoError(t, err)

	assert.Equal(t, 1, report.DownloadFailed)
	assert.Equal(t, 1, report.Processed)
	assert.True(t, store.has("out/a.txt"))
	assert.False(t, store.has("b.txt"))
}
