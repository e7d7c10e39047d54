package govmirror

import (
	"context"
	"time"
)

// defaultTrackInterval is used when Track is given a non-positive interval.
const defaultTrackInterval = 30 * time.Second

// NotificationListener receives asynchronous updates about tracked
// proposals and the outcome of this client's own submissions. Callbacks run
// on the tracker's goroutines and must not block.
type NotificationListener interface {
	OnTallyUpdated(tally *TallyResult)
	OnProposalStateChanged(proposalID uint64, previous, current ProposalState)
	OnVoteReconciled(receipt *VoteReceipt)
}

// AddNotificationListener registers a listener under a caller-chosen unique
// identifier.
func (m *Mirror) AddNotificationListener(notificationListener NotificationListener, uniqueIdentifier string) error {
	m.notificationListenersMu.Lock()
	defer m.notificationListenersMu.Unlock()

	if _, ok := m.notificationListeners[uniqueIdentifier]; ok {
		return makeError(ErrListenerAlreadyExist, "a listener with this identifier is already registered")
	}

	m.notificationListeners[uniqueIdentifier] = notificationListener
	return nil
}

// RemoveNotificationListener deregisters the listener registered under the
// identifier, if any.
func (m *Mirror) RemoveNotificationListener(uniqueIdentifier string) {
	m.notificationListenersMu.Lock()
	defer m.notificationListenersMu.Unlock()

	delete(m.notificationListeners, uniqueIdentifier)
}

func (m *Mirror) publishTallyUpdated(tally *TallyResult) {
	m.notificationListenersMu.Lock()
	defer m.notificationListenersMu.Unlock()

	for _, notificationListener := range m.notificationListeners {
		notificationListener.OnTallyUpdated(tally)
	}
}

func (m *Mirror) publishStateChanged(proposalID uint64, previous, current ProposalState) {
	m.notificationListenersMu.Lock()
	defer m.notificationListenersMu.Unlock()

	for _, notificationListener := range m.notificationListeners {
		notificationListener.OnProposalStateChanged(proposalID, previous, current)
	}
}

func (m *Mirror) publishVoteReconciled(receipt *VoteReceipt) {
	m.notificationListenersMu.Lock()
	defer m.notificationListenersMu.Unlock()

	for _, notificationListener := range m.notificationListeners {
		notificationListener.OnVoteReconciled(receipt)
	}
}

// Track starts a polling task that re-resolves the proposal on the given
// interval and publishes state and tally changes to listeners. The task
// owns its own cancellable context, survives any consumer view, and retires
// itself once the proposal reaches a terminal state. Tracking an already
// tracked proposal is an error.
func (m *Mirror) Track(proposalID uint64, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultTrackInterval
	}

	m.trackMu.Lock()
	defer m.trackMu.Unlock()

	if _, ok := m.tracked[proposalID]; ok {
		return errorf(ErrExist, "proposal %d is already tracked", proposalID)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.tracked[proposalID] = cancel
	m.wg.Add(1)
	go m.trackLoop(ctx, proposalID, interval)

	log.Debugf("tracking proposal %d every %s", proposalID, interval)
	return nil
}

// Untrack stops the proposal's polling task. It is a no-op for proposals
// not currently tracked.
func (m *Mirror) Untrack(proposalID uint64) {
	m.trackMu.Lock()
	if cancel, ok := m.tracked[proposalID]; ok {
		cancel()
		delete(m.tracked, proposalID)
	}
	m.trackMu.Unlock()
}

func (m *Mirror) trackLoop(ctx context.Context, proposalID uint64, interval time.Duration) {
	defer m.wg.Done()
	defer m.Untrack(proposalID)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastState ProposalState
	var lastTally *TallyResult
	haveState := false

	for {
		state, err := m.ledger.ProposalState(ctx, proposalID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Debugf("tracked proposal %d state read: %v", proposalID, err)
		} else {
			if haveState && state != lastState {
				// The cached record and tally band are stale now.
				m.cache.Delete(proposalKey(proposalID))
				m.cache.Delete(tallyKey(proposalID))
				m.publishStateChanged(proposalID, lastState, state)
			}
			lastState, haveState = state, true
		}

		tally, err := m.ResolveTally(ctx, proposalID, true)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
		} else {
			if tallyChanged(lastTally, tally) {
				m.publishTallyUpdated(tally)
			}
			lastTally = tally
		}

		if haveState && lastState.Terminal() {
			log.Debugf("proposal %d reached %s, tracking stopped", proposalID, lastState)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tallyChanged reports whether two resolutions differ in any observable
// standing.
func tallyChanged(prev, cur *TallyResult) bool {
	if prev == nil {
		return cur != nil
	}
	if cur == nil {
		return false
	}
	if prev.UniqueVoters != cur.UniqueVoters || prev.QuorumReached != cur.QuorumReached {
		return true
	}
	for _, c := range []VoteChoice{ChoiceAgainst, ChoiceFor, ChoiceAbstain} {
		pb, cb := prev.Choice(c), cur.Choice(c)
		if pb.Count != cb.Count {
			return true
		}
		if pb.Weight == nil || cb.Weight == nil {
			if (pb.Weight == nil) != (cb.Weight == nil) {
				return true
			}
			continue
		}
		if pb.Weight.Cmp(cb.Weight) != 0 {
			return true
		}
	}
	return false
}
