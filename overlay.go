package govmirror

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// overlayStore holds votes this client submitted that the authoritative
// state does not reflect yet, keyed by proposal and voter. Entries are
// pruned once absorbed, failed, or older than the configured age bound.
type overlayStore struct {
	mu      sync.Mutex
	pending map[string]*PendingMutation
}

func newOverlayStore() *overlayStore {
	return &overlayStore{pending: make(map[string]*PendingMutation)}
}

func overlayKey(id uint64, voter string) string {
	return fmt.Sprintf("%d/%s", id, normalizeVoter(voter))
}

func (o *overlayStore) put(mut *PendingMutation) {
	o.mu.Lock()
	o.pending[overlayKey(mut.ProposalID, mut.Voter)] = mut
	o.mu.Unlock()
}

func (o *overlayStore) remove(id uint64, voter string) {
	o.mu.Lock()
	delete(o.pending, overlayKey(id, voter))
	o.mu.Unlock()
}

func (o *overlayStore) setStatus(id uint64, voter string, status MutationStatus) {
	o.mu.Lock()
	if mut, ok := o.pending[overlayKey(id, voter)]; ok {
		mut.Status = status
	}
	o.mu.Unlock()
}

// live returns a copy of the unexpired, non-failed mutation for the given
// proposal and voter, or nil.
func (o *overlayStore) live(id uint64, voter string, now time.Time, maxAge time.Duration) *PendingMutation {
	o.mu.Lock()
	defer o.mu.Unlock()
	mut, ok := o.pending[overlayKey(id, voter)]
	if !ok || mut.Status == MutationFailed || now.Sub(mut.SubmittedAt) >= maxAge {
		return nil
	}
	cp := *mut
	return &cp
}

// forProposal returns copies of the proposal's live mutations, discarding
// any that aged past maxAge on the way.
func (o *overlayStore) forProposal(id uint64, now time.Time, maxAge time.Duration) []PendingMutation {
	o.mu.Lock()
	defer o.mu.Unlock()
	var live []PendingMutation
	for key, mut := range o.pending {
		if mut.ProposalID != id {
			continue
		}
		if now.Sub(mut.SubmittedAt) >= maxAge {
			log.Debugf("discarding pending vote on proposal %d by %s (%s)",
				mut.ProposalID, mut.Voter, ErrStaleOverlay)
			delete(o.pending, key)
			continue
		}
		if mut.Status == MutationFailed {
			continue
		}
		live = append(live, *mut)
	}
	return live
}

// applyOverlay merges the proposal's live pending votes into a copy of the
// authoritative tally. A mutation is skipped, and absorbed, when the
// authoritative result already counts its voter. Only local state is
// consulted here; the read path never issues extra remote calls.
func (m *Mirror) applyOverlay(ctx context.Context, base *TallyResult) *TallyResult {
	muts := m.overlay.forProposal(base.ProposalID, m.now(), m.cfg.OverlayMaxAge)
	if len(muts) == 0 {
		return base
	}

	merged := base.clone()
	applied := false
	for i := range muts {
		mut := &muts[i]
		if m.voterCounted(base, mut.Voter) {
			log.Tracef("pending vote on proposal %d by %s already counted, absorbing",
				mut.ProposalID, mut.Voter)
			m.overlay.remove(mut.ProposalID, mut.Voter)
			continue
		}
		bucket := merged.Choice(mut.Choice)
		bucket.Count++
		if mut.Weight != nil {
			bucket.Weight.Add(bucket.Weight, mut.Weight)
		}
		merged.UniqueVoters++
		applied = true
	}
	if !applied {
		return base
	}
	return m.finalizeTally(ctx, merged)
}

// voterCounted reports whether a tally's backing data is known to include
// the voter, consulting the replayed voter set and the cached voted flag.
func (m *Mirror) voterCounted(t *TallyResult, voter string) bool {
	if t.VoterCounted(voter) {
		return true
	}
	if t.Provenance == ProvenanceEvents {
		// The replayed set is authoritative about absence.
		return false
	}
	if v, ok := m.cache.Get(votedKey(t.ProposalID, voter)); ok {
		voted, _ := v.(bool)
		return voted
	}
	return false
}

// SubmitVote casts a ballot as the configured voter and blocks until the
// ledger reports the submission committed or failed. On success the
// affected cache entries are dropped synchronously and a background
// reconciliation loop re-resolves the tally until it reflects the vote.
// Failed submissions are never retried by the library.
func (m *Mirror) SubmitVote(ctx context.Context, proposalID uint64, choice VoteChoice) (*VoteReceipt, error) {
	if m.cfg.Voter == "" {
		return nil, makeError(ErrSubmitFailed, "no voter account configured")
	}
	if !choice.Valid() {
		return nil, errorf(ErrSubmitFailed, "invalid vote choice %d", choice)
	}
	voter := m.cfg.Voter

	prop, err := m.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if prop.State != StateActive {
		return nil, errorf(ErrProposalNotActive, "proposal %d is %s", proposalID, prop.State)
	}

	weight, err := m.VotingPowerOf(ctx, voter, prop.Snapshot)
	if err != nil {
		return nil, err
	}
	if weight.Sign() == 0 {
		return nil, errorf(ErrNoVotingPower,
			"account %s holds no voting power at checkpoint %d", voter, prop.Snapshot)
	}

	// Best-effort local guard; the ledger enforces this regardless.
	if voted, err := m.HasVoted(ctx, proposalID, voter); err == nil && voted {
		return nil, errorf(ErrAlreadyVoted, "account %s already voted on proposal %d", voter, proposalID)
	}

	m.overlay.put(&PendingMutation{
		ProposalID:  proposalID,
		Voter:       voter,
		Choice:      choice,
		Weight:      weight,
		SubmittedAt: m.now(),
		Status:      MutationUnconfirmed,
	})
	log.Infof("submitting %s vote on proposal %d, weight %s", choice, proposalID, FormatWeight(weight))

	receipt, err := m.ledger.SubmitVote(ctx, proposalID, choice)
	if err != nil {
		m.overlay.remove(proposalID, voter)
		// Restore ground truth so no trace of the failed write lingers.
		if _, rerr := m.ResolveTally(ctx, proposalID, true); rerr != nil {
			log.Debugf("post-failure refresh of proposal %d: %v", proposalID, rerr)
		}
		return nil, translateSubmitError(err)
	}

	m.overlay.setStatus(proposalID, voter, MutationConfirmed)
	m.invalidateAfterVote(proposalID, voter)

	m.wg.Add(1)
	go m.reconcileVote(receipt)

	return receipt, nil
}

// invalidateAfterVote drops every cache entry a confirmed vote renders
// stale.
func (m *Mirror) invalidateAfterVote(id uint64, voter string) {
	m.cache.Delete(tallyKey(id))
	m.cache.Delete(votedKey(id, voter))
	m.cache.Delete(voteKey(id, voter))
	m.cache.Delete(keyOverview)
}

// reconcileVote re-resolves a proposal on a backoff schedule until the
// authoritative tally reflects the confirmed vote, then retires the overlay
// entry. The remote log can lag the commit; this loop absorbs that window.
// If the vote never shows up the overlay entry ages out on its own.
func (m *Mirror) reconcileVote(receipt *VoteReceipt) {
	defer m.wg.Done()

	id, voter := receipt.ProposalID, receipt.Voter
	delay := m.cfg.ReconcileDelay
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for attempt := 1; attempt <= m.cfg.ReconcileTries; attempt++ {
		select {
		case <-m.ctx.Done():
			return
		case <-timer.C:
		}

		if m.voteObserved(id, voter) {
			m.overlay.remove(id, voter)
			m.cache.SetWithTTL(votedKey(id, voter), true, m.cfg.ActiveTallyTTL)
			log.Infof("vote on proposal %d by %s reconciled after %d attempt(s)", id, voter, attempt)
			m.publishVoteReconciled(receipt)
			return
		}
		if m.ctx.Err() != nil {
			return
		}

		delay = time.Duration(float64(delay) * m.cfg.ReconcileBackoff)
		if delay > m.cfg.ReconcileMaxDelay {
			delay = m.cfg.ReconcileMaxDelay
		}
		timer.Reset(delay)
	}
	log.Warnf("vote on proposal %d by %s not observed after %d attempts", id, voter, m.cfg.ReconcileTries)
}

// voteObserved force-refreshes the tally and reports whether the
// authoritative state now counts the voter, double-checking with a direct
// flag read when the tally's source cannot enumerate voters.
func (m *Mirror) voteObserved(id uint64, voter string) bool {
	t, err := m.ResolveTally(m.ctx, id, true)
	if err != nil {
		return false
	}
	if t.VoterCounted(voter) {
		return true
	}
	if t.Provenance == ProvenanceEvents {
		return false
	}
	voted, err := m.ledger.HasVoted(m.ctx, id, voter)
	if err != nil {
		log.Debugf("voted-flag read during reconciliation of proposal %d: %v", id, err)
		return false
	}
	return voted
}
