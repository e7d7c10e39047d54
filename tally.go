package govmirror

import (
	"context"
	"math/big"

	"golang.org/x/sync/errgroup"
)

// ResolveTally returns the proposal's current standing. Reads are served
// from the cache unless forceRefresh bypasses it; either way any unexpired
// pending local vote is merged into the returned copy, never into the cache.
//
// Resolution degrades instead of failing: when every source is unavailable
// the result is a zeroed tally tagged ProvenanceZeroed. The only errors
// surfaced are context cancellation.
func (m *Mirror) ResolveTally(ctx context.Context, proposalID uint64, forceRefresh bool) (*TallyResult, error) {
	var base *TallyResult
	if !forceRefresh {
		if v, ok := m.cache.Get(tallyKey(proposalID)); ok {
			base = v.(*TallyResult)
		}
	}
	if base == nil {
		var err error
		base, err = m.resolveTally(ctx, proposalID)
		if err != nil {
			return nil, err
		}
		m.cacheTally(ctx, base)
	}
	return m.applyOverlay(ctx, base), nil
}

// ResolveTallies resolves several proposals concurrently. The result slice
// is index-aligned with proposalIDs.
func (m *Mirror) ResolveTallies(ctx context.Context, proposalIDs []uint64, forceRefresh bool) ([]*TallyResult, error) {
	results := make([]*TallyResult, len(proposalIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range proposalIDs {
		i, id := i, id
		g.Go(func() error {
			t, err := m.ResolveTally(gctx, id, forceRefresh)
			if err != nil {
				return err
			}
			results[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// resolveTally runs the source pipeline: aggregate read, event replay,
// per-choice reads, zeroed. Each stage's failure is swallowed at debug level
// and the next source tried.
func (m *Mirror) resolveTally(ctx context.Context, id uint64) (*TallyResult, error) {
	t, err := m.ledger.ProposalTally(ctx, id)
	if err == nil {
		t.Provenance = ProvenanceAggregate
		return m.finalizeTally(ctx, t), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	log.Debugf("aggregate tally read failed for proposal %d: %v", id, err)

	if t, ok := m.replayTally(ctx, id); ok {
		return m.finalizeTally(ctx, t), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if t := m.perChoiceTally(ctx, id); t != nil {
		return m.finalizeTally(ctx, t), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	log.Warnf("all tally sources unavailable for proposal %d, serving zeroed standing", id)
	return m.finalizeTally(ctx, newZeroTally(id)), nil
}

// perChoiceTally reconstructs choice weights from three point reads. All
// three must succeed; vote counts are unknown on this path and stay zero.
func (m *Mirror) perChoiceTally(ctx context.Context, id uint64) *TallyResult {
	t := newZeroTally(id)
	t.Provenance = ProvenancePerChoice
	for _, choice := range []VoteChoice{ChoiceAgainst, ChoiceFor, ChoiceAbstain} {
		w, err := m.ledger.ChoiceWeight(ctx, id, choice)
		if err != nil {
			log.Debugf("per-choice read failed for proposal %d choice %s: %v", id, choice, err)
			return nil
		}
		if w != nil {
			t.Choice(choice).Weight = new(big.Int).Set(w)
		}
	}
	return t
}

func newZeroTally(id uint64) *TallyResult {
	return &TallyResult{
		ProposalID:  id,
		Against:     ChoiceTally{Weight: new(big.Int)},
		For:         ChoiceTally{Weight: new(big.Int)},
		Abstain:     ChoiceTally{Weight: new(big.Int)},
		TotalWeight: new(big.Int),
		Provenance:  ProvenanceZeroed,
	}
}

// finalizeTally derives every computed field of a tally from its choice
// buckets: the total is always recomputed from the three weights, never
// trusted from the wire, and percentages are zero on an empty tally.
func (m *Mirror) finalizeTally(ctx context.Context, t *TallyResult) *TallyResult {
	for _, c := range []VoteChoice{ChoiceAgainst, ChoiceFor, ChoiceAbstain} {
		if t.Choice(c).Weight == nil {
			t.Choice(c).Weight = new(big.Int)
		}
	}

	total := new(big.Int).Add(t.Against.Weight, t.For.Weight)
	total.Add(total, t.Abstain.Weight)
	t.TotalWeight = total
	t.TotalCoin = WeightToCoin(total)

	for _, c := range []VoteChoice{ChoiceAgainst, ChoiceFor, ChoiceAbstain} {
		bucket := t.Choice(c)
		bucket.WeightCoin = WeightToCoin(bucket.Weight)
		bucket.Percent = percentOf(bucket.Weight, total)
	}

	if t.UniqueVoters == 0 {
		t.UniqueVoters = int(t.Against.Count + t.For.Count + t.Abstain.Count)
	}

	if params, err := m.getParams(ctx); err != nil {
		log.Debugf("governance params unavailable, quorum left unset: %v", err)
	} else if params.Quorum != nil {
		t.QuorumReached = total.Cmp(params.Quorum) >= 0
	}

	t.ComputedAt = m.now()
	return t
}

func percentOf(w, total *big.Int) float64 {
	if w == nil || total == nil || total.Sign() == 0 {
		return 0
	}
	pct, _ := new(big.Float).Quo(
		new(big.Float).SetInt(w),
		new(big.Float).SetInt(total),
	).Float64()
	return pct * 100
}

// cacheTally stores an authoritative tally with a lifetime chosen by the
// proposal's lifecycle state. When the record itself cannot be fetched the
// short active band is used so a wrong guess ages out quickly.
func (m *Mirror) cacheTally(ctx context.Context, t *TallyResult) {
	state := StateActive
	if prop, err := m.GetProposal(ctx, t.ProposalID); err == nil {
		state = prop.State
	}
	m.cache.SetWithTTL(tallyKey(t.ProposalID), t, m.cfg.tallyTTL(state))
}
