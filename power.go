package govmirror

import (
	"context"
	"math/big"
)

// VotingPower returns the configured voter's weight at the given checkpoint.
func (m *Mirror) VotingPower(ctx context.Context, checkpoint uint64) (*big.Int, error) {
	if m.cfg.Voter == "" {
		return nil, makeError(ErrNoVotingPower, "no voter account configured")
	}
	return m.VotingPowerOf(ctx, m.cfg.Voter, checkpoint)
}

// VotingPowerOf computes a holder's voting weight at a checkpoint: own
// balance plus everything delegated to them, provided the holder is
// self-delegated. A holder who delegated elsewhere votes with zero weight
// regardless of what they hold. Checkpointed data is immutable, so results
// are cached on the long band.
func (m *Mirror) VotingPowerOf(ctx context.Context, holder string, checkpoint uint64) (*big.Int, error) {
	if m.weights == nil {
		return nil, makeError(ErrUnsupported, "no weight source configured")
	}
	v, err := m.cache.GetOrCompute(powerKey(holder, checkpoint), m.cfg.PowerTTL, func() (interface{}, error) {
		return m.resolvePower(ctx, holder, checkpoint)
	})
	if err != nil {
		return nil, err
	}
	// Hand out a copy; the cached value must stay untouched.
	return new(big.Int).Set(v.(*big.Int)), nil
}

func (m *Mirror) resolvePower(ctx context.Context, holder string, checkpoint uint64) (interface{}, error) {
	delegate, err := m.weights.DelegateOf(ctx, holder)
	if err != nil {
		return nil, err
	}
	if delegate != "" && normalizeVoter(delegate) != normalizeVoter(holder) {
		log.Debugf("%s delegated to %s, voting power is zero", holder, delegate)
		return new(big.Int), nil
	}

	balance, err := m.weights.BalanceAt(ctx, holder, checkpoint)
	if err != nil {
		return nil, err
	}
	delegated, err := m.weights.DelegatedToAt(ctx, holder, checkpoint)
	if err != nil {
		return nil, err
	}

	power := new(big.Int)
	if balance != nil {
		power.Add(power, balance)
	}
	if delegated != nil {
		power.Add(power, delegated)
	}
	return power, nil
}
