package downloader

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"volume-drain/internal/storage"
)

// newDownloadProgressLogger logs the progress of one object at most once per
// interval, plus a final line on completion. total must be positive.
func newDownloadProgressLogger(logger logrus.FieldLogger, total int64, every time.Duration) storage.ProgressFunc {
	started := time.Now()
	var lastLog time.Time

	return func(done, _ int64) {
		now := time.Now()
		if done < total && now.Sub(lastLog) < every {
			return
		}
		lastLog = now

		var rate int64
		if elapsed := now.Sub(started).Seconds(); elapsed > 0 {
			rate = int64(float64(done) / elapsed)
		}
		logger.WithFields(logrus.Fields{
			"bytes": done,
			"total": total,
			"rate":  formatBytes(rate) + "/s",
		}).Infof("download progress: %.1f%% (%s/%s)", float64(done)/float64(total)*100, formatBytes(done), formatBytes(total))
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
