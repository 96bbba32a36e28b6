package discovery

import (
	"context"
	"sort"
	"sync"
	"time"
)

// FollowPublisher manages the agent's contact list
type FollowPublisher interface {
	FollowUsers(ctx context.Context, pubkeys []string) error
	IsContactCached(pubkey string) bool
}

type followCandidate struct {
	pubkey string
	score  float64
}

// followPool accumulates every scored candidate across discovery runs,
// keeping each author's best score. Drained at follow selection.
type followPool struct {
	mu     sync.Mutex
	scores map[string]float64
}

func newFollowPool() *followPool {
	return &followPool{scores: make(map[string]float64)}
}

func (p *followPool) add(pubkey string, score float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if score > p.scores[pubkey] {
		p.scores[pubkey] = score
	}
}

// drain removes and returns all pooled candidates, best score first
func (p *followPool) drain() []followCandidate {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]followCandidate, 0, len(p.scores))
	for pk, s := range p.scores {
		out = append(out, followCandidate{pk, s})
	}
	p.scores = make(map[string]float64)

	sort.Slice(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// FlushFollows selects the best pooled candidates, capped per run and
// published as a single contact list update. Existing contacts are
// skipped, and so are authors under the engagement cooldown unless the
// cooldown came from an engagement this run.
func (e *Engine) FlushFollows(ctx context.Context, pub FollowPublisher) (int, error) {
	candidates := e.follows.drain()
	if len(candidates) == 0 {
		return 0, nil
	}

	cooldown := time.Duration(e.cfg.UserCooldownMinutes) * time.Minute
	fresh := make([]string, 0, e.cfg.MaxFollowsPerRun)
	for _, c := range candidates {
		if len(fresh) >= e.cfg.MaxFollowsPerRun {
			break
		}
		if pub.IsContactCached(c.pubkey) {
			continue
		}

		e.mu.Lock()
		_, engagedThisRun := e.engaged[c.pubkey]
		last, seen := e.userLast[c.pubkey]
		e.mu.Unlock()
		if !engagedThisRun && seen && time.Since(last) < cooldown {
			continue
		}

		fresh = append(fresh, c.pubkey)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	if err := pub.FollowUsers(ctx, fresh); err != nil {
		return 0, err
	}
	e.log.Info("followed discovered authors", "count", len(fresh))
	return len(fresh), nil
}
