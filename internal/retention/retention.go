package retention

import (
	"log/slog"
	"sync"
	"time"
)

// Store is the part of the database the pruner trims.
type Store interface {
	PruneAlerts(cutoff time.Time) (int64, error)
	PruneChatMessages(keep int) (int64, error)
}

type Config struct {
	// MaxAlertAge drops alerts older than this. Zero keeps them all.
	MaxAlertAge time.Duration
	// KeepMessages is the transcript length kept. Zero keeps them all.
	KeepMessages int
	Interval     time.Duration
}

const DefaultInterval = time.Hour

// Pruner bounds the alert log and dispatch transcript on a fixed interval.
type Pruner struct {
	store    Store
	cfg      Config
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
	logger   *slog.Logger
}

func New(store Store, cfg Config, logger *slog.Logger) *Pruner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Pruner{
		store:  store,
		cfg:    cfg,
		stop:   make(chan struct{}),
		now:    time.Now,
		logger: logger,
	}
}

// Start runs one pass immediately and then one per interval until Stop.
func (p *Pruner) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.prune()
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.prune()
			}
		}
	}()
}

func (p *Pruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

// RunOnce runs a single pass synchronously.
func (p *Pruner) RunOnce() {
	p.prune()
}

func (p *Pruner) prune() {
	if p.cfg.MaxAlertAge > 0 {
		n, err := p.store.PruneAlerts(p.now().Add(-p.cfg.MaxAlertAge))
		if err != nil {
			p.logger.Warn("retention: prune alerts failed", "err", err)
		} else if n > 0 {
			p.logger.Info("retention: pruned alerts", "count", n)
		}
	}
	if p.cfg.KeepMessages > 0 {
		n, err := p.store.PruneChatMessages(p.cfg.KeepMessages)
		if err != nil {
			p.logger.Warn("retention: prune transcript failed", "err", err)
		} else if n > 0 {
			p.logger.Info("retention: pruned transcript", "count", n)
		}
	}
}
