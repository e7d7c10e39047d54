package govmirror

import "context"

// probeStart is the first id probed during range discovery. Boundaries
// below it are found by a binary search of [0, probeStart).
const probeStart = 100

// linearScanMax bounds the fallback scan used when neither the first probe
// nor id 0 can be confirmed to exist.
const linearScanMax = 20

// DiscoverProposalRange determines the contiguous id interval of proposals
// the ledger holds, using O(log N) existence probes instead of enumerating
// ids. The result is cached briefly; new proposals surface on the next
// refresh.
//
// A probe error is indistinguishable from absence here, so discovery during
// a remote outage can under-report the range. The ids are assumed gap-free
// from 0 upward; the exponential phase is capped by Config.ProbeCeiling.
func (m *Mirror) DiscoverProposalRange(ctx context.Context) (ProposalRange, error) {
	v, err := m.cache.GetOrCompute(keyRange, m.cfg.RangeTTL, func() (interface{}, error) {
		return m.discoverRange(ctx)
	})
	if err != nil {
		return ProposalRange{}, err
	}
	return v.(ProposalRange), nil
}

func (m *Mirror) discoverRange(ctx context.Context) (ProposalRange, error) {
	ceiling := m.cfg.ProbeCeiling

	high := uint64(probeStart)
	if high > ceiling {
		high = ceiling
	}

	ok, err := m.probeExists(ctx, high)
	if err != nil {
		return ProposalRange{}, err
	}
	if !ok {
		ok, err = m.probeExists(ctx, 0)
		if err != nil {
			return ProposalRange{}, err
		}
		if ok {
			max, err := m.bisectBoundary(ctx, 0, high)
			if err != nil {
				return ProposalRange{}, err
			}
			return ProposalRange{Min: 0, Max: max, Found: true}, nil
		}
		return m.linearScan(ctx)
	}

	// Double the probe until the first absent id, then bisect between the
	// last two probes.
	low := high
	for low < ceiling {
		high = low * 2
		if high > ceiling {
			high = ceiling
		}
		ok, err := m.probeExists(ctx, high)
		if err != nil {
			return ProposalRange{}, err
		}
		if !ok {
			max, err := m.bisectBoundary(ctx, low, high)
			if err != nil {
				return ProposalRange{}, err
			}
			return ProposalRange{Min: 0, Max: max, Found: true}, nil
		}
		low = high
	}

	// Everything up to the ceiling exists; report the ceiling as the
	// upper bound rather than probing further.
	log.Warnf("proposal range reaches the probe ceiling %d; range may extend beyond it", ceiling)
	return ProposalRange{Min: 0, Max: ceiling, Found: true}, nil
}

// bisectBoundary narrows (low, high) to the greatest existing id, given that
// low exists and high does not.
func (m *Mirror) bisectBoundary(ctx context.Context, low, high uint64) (uint64, error) {
	for high-low > 1 {
		mid := low + (high-low)/2
		ok, err := m.probeExists(ctx, mid)
		if err != nil {
			return 0, err
		}
		if ok {
			low = mid
		} else {
			high = mid
		}
	}
	return low, nil
}

// linearScan is the last-resort discovery path: check ids 0..linearScanMax
// one by one. Used when id 0 cannot be confirmed, which either means an
// empty ledger or a remote that rejects low ids for reasons a probe cannot
// distinguish.
func (m *Mirror) linearScan(ctx context.Context) (ProposalRange, error) {
	var r ProposalRange
	for id := uint64(0); id <= linearScanMax; id++ {
		ok, err := m.probeExists(ctx, id)
		if err != nil {
			return ProposalRange{}, err
		}
		if !ok {
			continue
		}
		if !r.Found {
			r.Min = id
			r.Found = true
		}
		r.Max = id
	}
	if !r.Found {
		log.Debugf("no proposals discovered on the ledger")
	}
	return r, nil
}

// probeExists reports whether a proposal id exists. Remote errors other
// than context cancellation count as absence.
func (m *Mirror) probeExists(ctx context.Context, id uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := m.ledger.ProposalState(ctx, id); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Tracef("probe %d: treated as absent: %v", id, err)
		return false, nil
	}
	return true, nil
}
