package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"volume-drain/internal/domain"
	"volume-drain/internal/storage"
)

// Manager runs the drain poll loop.
type Manager interface {
	// Start verifies the volume and the local root and enters the running
	// state.
	Start(ctx context.Context) error
	// Run executes cycles until ctx is cancelled or a cycle fails
	// unexpectedly. Cancellation returns nil.
	Run(ctx context.Context) error
	Stats() domain.Stats
}

type Config struct {
	RunID        string
	Volume       string
	RemoteFolder string
	Interval     time.Duration
	Logger       logrus.FieldLogger
}

type manager struct {
	cfg      Config
	store    storage.Service
	local    storage.Local
	lister   *Lister
	transfer *Transfer
	prefix   string

	mu    sync.Mutex
	stats domain.Stats
}

func NewManager(cfg Config, store storage.Service, local storage.Local) Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	prefix := RootPrefix(cfg.RemoteFolder)
	return &manager{
		cfg:      cfg,
		store:    store,
		local:    local,
		lister:   NewLister(store, cfg.Logger),
		transfer: NewTransfer(store, local, cfg.Logger),
		prefix:   prefix,
		stats: domain.Stats{
			RunID:        cfg.RunID,
			State:        domain.LoopStateIdle,
			Volume:       cfg.Volume,
			RemotePrefix: prefix,
			LocalRoot:    local.Root(),
		},
	}
}

func (m *manager) Start(ctx context.Context) error {
	logger := m.cfg.Logger
	remote := m.prefix
	if remote == "" {
		remote = "(root)"
	}
	logger.Infof("network volume: %s", m.cfg.Volume)
	logger.Infof("remote folder: %s", remote)
	logger.Infof("local directory: %s", m.local.Root())
	logger.Infof("check interval: %s", m.cfg.Interval)

	if err := m.store.CheckBucket(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		switch {
		case errors.Is(err, storage.ErrBucketNotFound):
			return fmt.Errorf("network volume %q not found: %w", m.cfg.Volume, err)
		case errors.Is(err, storage.ErrAccessDenied):
			return fmt.Errorf("access denied to network volume %q, check credentials and permissions: %w", m.cfg.Volume, err)
		default:
			return fmt.Errorf("connect to network volume %q: %w", m.cfg.Volume, err)
		}
	}
	logger.Infof("connected to network volume %s", m.cfg.Volume)

	if err := m.local.CheckRoot(); err != nil {
		return fmt.Errorf("prepare local download directory: %w", err)
	}
	removed, err := m.local.RemoveStale()
	if err != nil {
		logger.Warnf("failed to clean up partial downloads: %v", err)
	} else if removed > 0 {
		logger.Infof("removed %d partial downloads from an earlier run", removed)
	}
	logger.Infof("local download directory ready: %s", m.local.Root())

	now := time.Now()
	m.mu.Lock()
	m.stats.State = domain.LoopStateRunning
	m.stats.StartedAt = &now
	m.stats.Cycles = 0
	m.stats.TotalProcessed = 0
	m.mu.Unlock()
	return nil
}

func (m *manager) Run(ctx context.Context) error {
	if state := m.Stats().State; state != domain.LoopStateRunning {
		return fmt.Errorf("manager is %s, not running", state)
	}
	m.cfg.Logger.Info("starting monitoring loop")

	for {
		report, err := m.runCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return m.stop()
			}
			total := m.setStopped()
			m.cfg.Logger.WithField("cycle", report.Cycle).Errorf("unexpected error: %v", err)
			m.cfg.Logger.Errorf("total files processed before error: %d", total)
			return fmt.Errorf("cycle %d: %w", report.Cycle, err)
		}

		if !m.wait(ctx) {
			return m.stop()
		}
	}
}

func (m *manager) runCycle(ctx context.Context) (report domain.CycleReport, err error) {
	started := time.Now()
	cycle := m.Stats().Cycles + 1
	logger := m.cfg.Logger.WithField("cycle", cycle)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		report.Cycle = cycle
		report.StartedAt = started
		report.Duration = time.Since(started)
		total := m.recordCycle(report)
		if err == nil {
			m.logCycle(logger, report, total)
		}
	}()

	logger.Infof("cycle #%d", cycle)

	objects, err := m.lister.List(ctx, m.prefix)
	if err != nil {
		return domain.CycleReport{}, err
	}
	if len(objects) == 0 {
		return domain.CycleReport{}, nil
	}
	logger.Infof("found %d file(s) to process", len(objects))

	return m.transfer.Process(ctx, objects)
}

func (m *manager) logCycle(logger logrus.FieldLogger, report domain.CycleReport, total int64) {
	fields := logrus.Fields{
		"found":           report.Found,
		"processed":       report.Processed,
		"not_removed":     report.NotRemoved,
		"download_failed": report.DownloadFailed,
		"bytes":           report.Bytes,
		"duration":        report.Duration.Round(time.Millisecond).String(),
	}
	switch {
	case report.Found == 0:
		logger.WithFields(fields).Info("no files found")
	case report.Processed > 0:
		logger.WithFields(fields).Infof("processed %d file(s) this cycle, total processed: %d", report.Processed, total)
	default:
		logger.WithFields(fields).Warnf("no files processed this cycle, total processed: %d", total)
	}
	logger.Infof("waiting %s before next check", m.cfg.Interval)
}

// wait blocks for the poll interval; false means ctx was cancelled.
func (m *manager) wait(ctx context.Context) bool {
	timer := time.NewTimer(m.cfg.Interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *manager) stop() error {
	total := m.setStopped()
	m.cfg.Logger.Info("shutting down gracefully")
	m.cfg.Logger.Infof("total files processed: %d", total)
	return nil
}

func (m *manager) recordCycle(report domain.CycleReport) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Cycles = report.Cycle
	m.stats.TotalProcessed += int64(report.Processed)
	m.stats.LastCycle = &report
	return m.stats.TotalProcessed
}

func (m *manager) setStopped() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.State = domain.LoopStateStopped
	return m.stats.TotalProcessed
}

func (m *manager) Stats() domain.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.stats
	if stats.LastCycle != nil {
		last := *stats.LastCycle
		stats.LastCycle = &last
	}
	return stats
}

var _ Manager = (*manager)(nil)
