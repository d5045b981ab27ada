package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/perceptualart/torbobase-sub002/internal/bus"
	"github.com/perceptualart/torbobase-sub002/pkg/protocol"
)

const (
	// compressBatch is how many of the oldest facts one compression pass
	// merges.
	compressBatch = 20

	// evictionFloor marks records eligible for eviction once decayed below
	// it with fewer than evictionMinReads accesses.
	evictionFloor    = 0.05
	evictionMinReads = 2
)

// MaintenanceConfig schedules the periodic compress and decay passes.
type MaintenanceConfig struct {
	CompressSchedule string // cron expression
	DecaySchedule    string // cron expression
	HalfLife         time.Duration
}

// Maintainer runs the compress and decay passes on their cron schedules.
type Maintainer struct {
	index     *Index
	completer Completer
	pub       bus.EventPublisher
	cfg       MaintenanceConfig
	lastDecay time.Time
}

func NewMaintainer(index *Index, completer Completer, pub bus.EventPublisher, cfg MaintenanceConfig) *Maintainer {
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = 30 * 24 * time.Hour
	}
	return &Maintainer{index: index, completer: completer, pub: pub, cfg: cfg, lastDecay: time.Now()}
}

// Run checks the schedules once a minute until ctx is cancelled.
func (m *Maintainer) Run(ctx context.Context) error {
	gron := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.cfg.DecaySchedule != "" {
				if due, err := gron.IsDue(m.cfg.DecaySchedule, time.Now()); err == nil && due {
					m.Decay(time.Now())
				}
			}
			if m.cfg.CompressSchedule != "" {
				due, err := gron.IsDue(m.cfg.CompressSchedule, time.Now())
				if err == nil && (due || m.index.OverCapacity() > 0) {
					if err := m.Compress(ctx); err != nil {
						slog.Warn("memory compression failed", "error", err)
					}
				}
			}
		}
	}
}

// Decay reduces every record's importance toward zero with the configured
// half-life, based on time elapsed since the previous pass.
func (m *Maintainer) Decay(now time.Time) {
	elapsed := now.Sub(m.lastDecay)
	if elapsed <= 0 {
		return
	}
	m.lastDecay = now

	factor := math.Pow(0.5, elapsed.Hours()/m.cfg.HalfLife.Hours())
	m.index.scaleImportance(factor)
	slog.Debug("memory decay applied", "factor", factor, "records", m.index.Count())
}

// Compress merges the oldest facts into fewer compressed records and evicts
// decayed, unread records. Originals are removed only after their
// replacements are indexed.
func (m *Maintainer) Compress(ctx context.Context) error {
	// Evict first: decayed below the floor and effectively never read.
	for _, rec := range m.index.snapshot(func(r *Record) bool {
		return r.Importance < evictionFloor && r.AccessCount < evictionMinReads
	}) {
		if err := m.index.Remove(rec.ID); err != nil {
			slog.Warn("memory eviction failed", "id", rec.ID, "error", err)
		}
	}

	if m.completer == nil {
		return nil
	}

	facts := m.index.snapshot(func(r *Record) bool {
		return r.Category == CategoryFact
	})
	if len(facts) < compressBatch {
		return nil
	}
	sortByAge(facts)
	batch := facts[:compressBatch]

	var b strings.Builder
	b.WriteString("Merge these memory notes into at most 5 concise statements. Drop trivia. One statement per line, no numbering:\n")
	for _, rec := range batch {
		b.WriteString("- " + rec.Text + "\n")
	}

	raw, err := m.completer.Complete(ctx, b.String())
	if err != nil {
		return fmt.Errorf("compression model: %w", err)
	}

	var added int
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line == "" {
			continue
		}
		if _, created, err := m.index.Add(ctx, line, CategoryCompressed, "compressor", 0.5); err == nil && created {
			added++
		}
	}
	if added == 0 {
		return fmt.Errorf("compression produced no records")
	}

	for _, rec := range batch {
		if err := m.index.Remove(rec.ID); err != nil {
			slog.Warn("compressed original removal failed", "id", rec.ID, "error", err)
		}
	}

	if m.pub != nil {
		m.pub.Broadcast(bus.Event{
			Name:    protocol.EventMemoryCompressed,
			Payload: map[string]int{"merged": len(batch), "added": added},
		})
	}
	slog.Info("memory compressed", "merged", len(batch), "added", added)
	return nil
}

func sortByAge(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}
