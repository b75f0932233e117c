package feed

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/BPS-Circular-API/discord-bot/internal/circular"
)

// SnapshotStore is the slice of the storage layer the poller needs.
type SnapshotStore interface {
	Snapshot(ctx context.Context, category string) ([]circular.Circular, bool, error)
	PutSnapshot(ctx context.Context, category string, items []circular.Circular) error
}

// Lister is the slice of the API client the poller needs.
type Lister interface {
	List(ctx context.Context, category string) ([]circular.Circular, error)
}

// PollerConfig tunes the diff engine.
type PollerConfig struct {
	Categories []string

	// MaxNewPerCycle is the flood safety valve. When one Check discovers
	// more new circulars than this across all categories, the whole cycle's
	// result is suppressed: a rebuilt upstream index can briefly report
	// everything as new, and notifying hundreds of stale items would be far
	// worse than missing one poll. Snapshots still advance so the anomaly is
	// not reprocessed next cycle.
	MaxNewPerCycle int

	// Ignored circulars are dropped from results without affecting the
	// snapshot.
	Ignored []int
}

// Poller diffs the upstream feed against the persisted per-category snapshot
// and reports genuinely new circulars.
type Poller struct {
	cfg   PollerConfig
	feed  Lister
	store SnapshotStore
	log   zerolog.Logger
}

func NewPoller(cfg PollerConfig, feed Lister, store SnapshotStore, log zerolog.Logger) *Poller {
	if cfg.MaxNewPerCycle <= 0 {
		cfg.MaxNewPerCycle = 19
	}
	return &Poller{cfg: cfg, feed: feed, store: store, log: log}
}

// Check fetches every category, returns the circulars not present in the
// stored snapshot, and replaces the snapshot with the fresh list.
//
// Guarantees:
//   - A category with no prior snapshot establishes a baseline and reports
//     nothing: a cold start must never replay the whole feed.
//   - A category whose fetch fails is skipped for this cycle (no snapshot
//     update, no results) without affecting the other categories.
//   - Newness is decided by id alone. Reordered lists and rewritten titles
//     or links do not fabricate new items.
func (p *Poller) Check(ctx context.Context) (map[string][]circular.Circular, error) {
	newItems := make(map[string][]circular.Circular)
	total := 0

	for _, cat := range p.cfg.Categories {
		fresh, err := p.feed.List(ctx, cat)
		if err != nil {
			p.log.Warn().Err(err).Str("category", cat).Msg("feed fetch failed; skipping category this cycle")
			continue
		}

		prev, ok, err := p.store.Snapshot(ctx, cat)
		if err != nil {
			p.log.Error().Err(err).Str("category", cat).Msg("snapshot read failed; skipping category this cycle")
			continue
		}
		if !ok {
			if err := p.store.PutSnapshot(ctx, cat, fresh); err != nil {
				p.log.Error().Err(err).Str("category", cat).Msg("baseline snapshot write failed")
				continue
			}
			p.log.Info().Str("category", cat).Int("items", len(fresh)).Msg("baseline snapshot established")
			continue
		}

		var diff []circular.Circular
		for _, item := range fresh {
			if circular.ContainsID(prev, item.ID) {
				continue
			}
			if p.ignored(item.ID) {
				p.log.Info().Int("id", item.ID).Str("category", cat).Msg("new circular is on the ignore list")
				continue
			}
			diff = append(diff, item)
		}

		// Snapshot advances whether or not anything was new; the diff above
		// already happened against the old copy.
		if err := p.store.PutSnapshot(ctx, cat, fresh); err != nil {
			p.log.Error().Err(err).Str("category", cat).Msg("snapshot write failed")
			continue
		}

		if len(diff) > 0 {
			newItems[cat] = diff
			total += len(diff)
		}
	}

	if total > p.cfg.MaxNewPerCycle {
		p.log.Warn().
			Int("new", total).
			Int("cap", p.cfg.MaxNewPerCycle).
			Msg("new-circular count exceeds safety cap; suppressing dispatch for this cycle")
		return map[string][]circular.Circular{}, nil
	}
	return newItems, nil
}

func (p *Poller) ignored(id int) bool {
	for _, ig := range p.cfg.Ignored {
		if ig == id {
			return true
		}
	}
	return false
}
