package govmirror

import (
	"context"
	"math/big"
)

// replayVotes folds an event log slice into the final per-voter vote set.
// A voter's later record, by log sequence, overwrites any earlier one, so
// replaying a log with revotes lands on each voter's last ballot no matter
// how often it is replayed.
func replayVotes(records []VoteRecord) map[string]VoteRecord {
	final := make(map[string]VoteRecord, len(records))
	for _, rec := range records {
		voter := normalizeVoter(rec.Voter)
		if prev, ok := final[voter]; ok && prev.Sequence > rec.Sequence {
			continue
		}
		final[voter] = rec
	}
	return final
}

// tallyFromRecords accumulates the final vote set into an events-provenance
// tally, retaining the counted-voter set for overlay checks.
func tallyFromRecords(id uint64, final map[string]VoteRecord) *TallyResult {
	t := newZeroTally(id)
	t.Provenance = ProvenanceEvents
	t.voters = make(map[string]struct{}, len(final))
	for voter, rec := range final {
		bucket := t.Choice(rec.Choice)
		bucket.Count++
		if rec.Weight != nil {
			bucket.Weight = new(big.Int).Add(bucket.Weight, rec.Weight)
		}
		t.voters[voter] = struct{}{}
	}
	t.UniqueVoters = len(final)
	return t
}

// replayTally retrieves and replays the proposal's vote log. The second
// result is false when log retrieval itself failed; the resolution pipeline
// then moves on to its next source instead of failing the read.
func (m *Mirror) replayTally(ctx context.Context, id uint64) (*TallyResult, bool) {
	records, err := m.ledger.VoteEvents(ctx, id)
	if err != nil {
		log.Debugf("vote log unavailable for proposal %d: %v", id, err)
		return nil, false
	}
	return tallyFromRecords(id, replayVotes(records)), true
}

// VoterVote returns the holder's final counted ballot on a proposal,
// reconstructed from the vote log. Returns an ErrNotFound kind when the log
// holds no vote by the holder.
func (m *Mirror) VoterVote(ctx context.Context, proposalID uint64, voter string) (*VoteRecord, error) {
	key := voteKey(proposalID, voter)
	if v, ok := m.cache.Get(key); ok {
		return v.(*VoteRecord), nil
	}

	records, err := m.ledger.VoteEvents(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	rec, ok := replayVotes(records)[normalizeVoter(voter)]
	if !ok {
		return nil, errorf(ErrNotFound, "no vote by %s on proposal %d", voter, proposalID)
	}

	state := StateActive
	if v, ok := m.cache.Get(proposalKey(proposalID)); ok {
		state = v.(*Proposal).State
	}
	m.cache.SetWithTTL(key, &rec, m.cfg.votedTTL(state))
	return &rec, nil
}
