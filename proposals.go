package govmirror

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Proposals returns the proposals in the discovered range matching the
// given category, fetched concurrently and paged after filtering. A limit
// of 0 means no limit. Ids that vanish between discovery and fetch are
// skipped.
func (m *Mirror) Proposals(ctx context.Context, category, offset, limit int32, newestFirst bool) ([]*Proposal, error) {
	r, err := m.DiscoverProposalRange(ctx)
	if err != nil {
		return nil, err
	}
	if !r.Found {
		return nil, nil
	}

	ids := make([]uint64, 0, r.Max-r.Min+1)
	if newestFirst {
		for id := r.Max; ; id-- {
			ids = append(ids, id)
			if id == r.Min {
				break
			}
		}
	} else {
		for id := r.Min; id <= r.Max; id++ {
			ids = append(ids, id)
		}
	}

	props := make([]*Proposal, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			p, err := m.GetProposal(gctx, id)
			if err != nil {
				if IsErr(err, ErrNotFound) {
					return nil
				}
				return err
			}
			props[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	matched := make([]*Proposal, 0, len(props))
	for _, p := range props {
		if p == nil {
			continue
		}
		if category != ProposalCategoryAll && p.Category() != category {
			continue
		}
		matched = append(matched, p)
	}

	if offset < 0 {
		offset = 0
	}
	if int(offset) >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && int(limit) < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// Overview returns a rollup of proposal counts per category over the
// discovered range.
func (m *Mirror) Overview(ctx context.Context) (*Overview, error) {
	v, err := m.cache.GetOrCompute(keyOverview, m.cfg.ActiveRecordTTL, func() (interface{}, error) {
		return m.buildOverview(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Overview), nil
}

func (m *Mirror) buildOverview(ctx context.Context) (interface{}, error) {
	props, err := m.Proposals(ctx, ProposalCategoryAll, 0, 0, false)
	if err != nil {
		return nil, err
	}

	overview := &Overview{}
	for _, p := range props {
		overview.All++
		switch p.Category() {
		case ProposalCategoryPending:
			overview.Pending++
		case ProposalCategoryActive:
			overview.Active++
		case ProposalCategoryPassed:
			overview.Passed++
		case ProposalCategoryRejected:
			overview.Rejected++
		case ProposalCategoryCanceled:
			overview.Canceled++
		}
	}
	return overview, nil
}
