package downloader

import (
	"context"
	"errors"
	"io"
	"path"
	"time"

	"github.com/sirupsen/logrus"

	"volume-drain/internal/domain"
	"volume-drain/internal/storage"
)

const (
	defaultProgressThreshold = 16 << 20
	defaultProgressInterval  = 2 * time.Second
)

// Transfer downloads objects into the local mirror and removes each remote
// object once its local copy is in place.
type Transfer struct {
	store  storage.Service
	local  storage.Local
	logger logrus.FieldLogger

	// objects of at least progressThreshold bytes log progress every
	// progressInterval while they download
	progressThreshold int64
	progressInterval  time.Duration
}

func NewTransfer(store storage.Service, local storage.Local, logger logrus.FieldLogger) *Transfer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transfer{
		store:             store,
		local:             local,
		logger:            logger,
		progressThreshold: defaultProgressThreshold,
		progressInterval:  defaultProgressInterval,
	}
}

// Process drains objects in order. Failures are handled per object; the
// returned error is either a context error or a local root that can no
// longer be written to. The report covers the objects handled so far in
// both cases.
func (t *Transfer) Process(ctx context.Context, objects []storage.ObjectInfo) (domain.CycleReport, error) {
	report := domain.CycleReport{Found: len(objects)}

	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		outcome, n, err := t.drain(ctx, obj)
		if err != nil {
			return report, err
		}
		report.Record(outcome, n)
	}

	return report, nil
}

func (t *Transfer) drain(ctx context.Context, obj storage.ObjectInfo) (domain.Outcome, int64, error) {
	logger := t.logger.WithField("key", obj.Key)

	localPath, err := t.local.Path(obj.Key)
	if err != nil {
		logger.WithField("op", "download").Errorf("failed to map key to a local path: %v", err)
		return domain.OutcomeDownloadFailed, 0, nil
	}
	logger.Infof("processing %s", obj.Key)

	if dir := path.Dir(obj.Key); dir != "." {
		if err := t.local.EnsureDir(dir); err != nil {
			if errors.Is(err, storage.ErrRootUnavailable) {
				return "", 0, err
			}
			logger.WithField("op", "download").Errorf("failed to create local directory for %s: %v", obj.Key, err)
			logger.Warn("skipping removal due to download failure")
			return domain.OutcomeDownloadFailed, 0, nil
		}
	}

	n, err := t.download(ctx, obj, logger)
	if err != nil {
		if errors.Is(err, storage.ErrRootUnavailable) {
			return "", 0, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", 0, ctxErr
		}
		logger.WithField("op", "download").Errorf("failed to download %s: %v", obj.Key, err)
		logger.Warn("skipping removal due to download failure")
		return domain.OutcomeDownloadFailed, 0, nil
	}
	logger.Infof("downloaded %s (%s) to %s", obj.Key, formatBytes(n), localPath)

	if err := t.store.Delete(ctx, obj.Key); err != nil {
		logger.WithField("op", "delete").Errorf("failed to remove %s: %v", obj.Key, err)
		logger.Warn("file downloaded but not removed from remote")
		return domain.OutcomeNotRemoved, n, nil
	}
	logger.Infof("removed %s", obj.Key)

	return domain.OutcomeRemoved, n, nil
}

func (t *Transfer) download(ctx context.Context, obj storage.ObjectInfo, logger logrus.FieldLogger) (int64, error) {
	var progress storage.ProgressFunc
	if obj.Size > 0 && obj.Size >= t.progressThreshold {
		progress = newDownloadProgressLogger(logger, obj.Size, t.progressInterval)
	}

	var written int64
	err := t.local.WriteFile(obj.Key, func(w io.WriterAt) error {
		n, err := t.store.Download(ctx, obj.Key, storage.NewProgressWriterAt(w, obj.Size, progress))
		written = n
		return err
	})
	return written, err
}
