package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/footballistika/predictor/internal/config"
	"github.com/footballistika/predictor/internal/domain"
	"github.com/footballistika/predictor/internal/flatfile"
	"github.com/footballistika/predictor/internal/metrics"
)

// Source is the read side of the engine the exporter copies from
type Source interface {
	ListMatches(ctx context.Context) ([]domain.Match, error)
	ListAll(ctx context.Context) ([]domain.Prediction, error)
	Rules(ctx context.Context) (domain.PointsRule, error)
}

// Exporter periodically writes the configured store's matches and
// predictions to a flat-file directory. The leaderboard and accuracy files
// are derived by the flat-file store on write. It never settles.
type Exporter struct {
	source  Source
	config  *config.ExportConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewExporter creates a new export worker
func NewExporter(
	source Source,
	cfg *config.ExportConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Exporter {
	return &Exporter{
		source:  source,
		config:  cfg,
		metrics: m,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the background export loop
func (w *Exporter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("export worker started", "interval", w.config.Interval, "dir", w.config.Dir)

	go w.run(ctx)
	return nil
}

// Stop stops the background export loop
func (w *Exporter) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("export worker stopped")
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *Exporter) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Exporter) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("export failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single export cycle
func (w *Exporter) RunOnce(ctx context.Context) error {
	start := time.Now()

	matches, err := w.source.ListMatches(ctx)
	if err != nil {
		w.metrics.RecordExport("error")
		return fmt.Errorf("listing matches: %w", err)
	}
	predictions, err := w.source.ListAll(ctx)
	if err != nil {
		w.metrics.RecordExport("error")
		return fmt.Errorf("listing predictions: %w", err)
	}
	rules, err := w.source.Rules(ctx)
	if err != nil {
		w.metrics.RecordExport("error")
		return fmt.Errorf("loading rules: %w", err)
	}

	target, err := flatfile.Open(w.config.Dir, rules, w.logger)
	if err != nil {
		w.metrics.RecordExport("error")
		return fmt.Errorf("opening export dir: %w", err)
	}
	defer target.Close()

	if err := target.Replace(ctx, matches, predictions); err != nil {
		w.metrics.RecordExport("error")
		return fmt.Errorf("writing export: %w", err)
	}

	w.metrics.RecordExport("ok")
	w.logger.Info("export completed",
		"dir", w.config.Dir,
		"matches", len(matches),
		"predictions", len(predictions),
		"duration", time.Since(start),
	)
	return nil
}
