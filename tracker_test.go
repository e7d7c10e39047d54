package govmirror

import (
	"sync"
	"testing"
	"time"
)

// recordingListener captures published notifications.
type recordingListener struct {
	mu           sync.Mutex
	tallies      []*TallyResult
	stateChanges []ProposalState
	stateCh      chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{stateCh: make(chan struct{}, 8)}
}

func (l *recordingListener) OnTallyUpdated(t *TallyResult) {
	l.mu.Lock()
	l.tallies = append(l.tallies, t)
	l.mu.Unlock()
}

func (l *recordingListener) OnProposalStateChanged(_ uint64, _, current ProposalState) {
	l.mu.Lock()
	l.stateChanges = append(l.stateChanges, current)
	l.mu.Unlock()
	select {
	case l.stateCh <- struct{}{}:
	default:
	}
}

func (l *recordingListener) OnVoteReconciled(*VoteReceipt) {}

func TestListenerRegistration(t *testing.T) {
	m, _ := newTestMirror(t, newStubLedger(1), nil, nil)
	listener := newRecordingListener()

	if err := m.AddNotificationListener(listener, "a"); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := m.AddNotificationListener(listener, "a"); !IsErr(err, ErrListenerAlreadyExist) {
		t.Errorf("duplicate registration got %v, want listener-already-exist", err)
	}

	m.RemoveNotificationListener("a")
	if err := m.AddNotificationListener(listener, "a"); err != nil {
		t.Errorf("re-registration after removal: %v", err)
	}
}

func TestTrackRejectsDuplicates(t *testing.T) {
	m, _ := newTestMirror(t, newStubLedger(3), nil, nil)

	if err := m.Track(2, time.Hour); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if err := m.Track(2, time.Hour); !IsErr(err, ErrExist) {
		t.Errorf("duplicate Track got %v, want exists", err)
	}

	m.Untrack(2)
	m.Untrack(2) // no-op

	// The slot frees up once the loop observes its cancellation.
	deadline := time.After(5 * time.Second)
	for {
		if err := m.Track(2, time.Hour); err == nil {
			return
		}
		select {
		case <-deadline:
			t.Fatal("tracking slot never freed after Untrack")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTrackPublishesStateChange(t *testing.T) {
	ledger := newStubLedger(3)
	ledger.proposals[2] = &Proposal{ID: 2, State: StateActive}
	m, _ := newTestMirror(t, ledger, nil, nil)

	listener := newRecordingListener()
	if err := m.AddNotificationListener(listener, "test"); err != nil {
		t.Fatalf("AddNotificationListener: %v", err)
	}
	if err := m.Track(2, 5*time.Millisecond); err != nil {
		t.Fatalf("Track: %v", err)
	}

	// Let at least one poll see the active state, then conclude the
	// proposal; the tracker must publish the transition and retire itself.
	time.Sleep(20 * time.Millisecond)
	ledger.mu.Lock()
	ledger.proposals[2] = &Proposal{ID: 2, State: StateExecuted}
	ledger.mu.Unlock()

	select {
	case <-listener.stateCh:
	case <-time.After(5 * time.Second):
		t.Fatal("state transition never published")
	}

	listener.mu.Lock()
	last := listener.stateChanges[len(listener.stateChanges)-1]
	listener.mu.Unlock()
	if last != StateExecuted {
		t.Errorf("published transition to %s, want executed", last)
	}

	// Terminal proposals stop their own polling task; the id becomes
	// trackable again.
	deadline := time.After(5 * time.Second)
	for {
		if err := m.Track(2, time.Hour); err == nil {
			m.Untrack(2)
			return
		}
		select {
		case <-deadline:
			t.Fatal("terminal proposal's tracking task never retired")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTallyChanged(t *testing.T) {
	base := func() *TallyResult {
		t := newZeroTally(1)
		t.For.Count = 2
		t.For.Weight.SetInt64(20)
		t.UniqueVoters = 2
		return t
	}

	if tallyChanged(base(), base()) {
		t.Error("identical tallies reported as changed")
	}
	if !tallyChanged(nil, base()) {
		t.Error("first resolution not reported as a change")
	}
	if tallyChanged(base(), nil) {
		t.Error("nil current reported as a change")
	}

	weight := base()
	weight.For.Weight.SetInt64(25)
	if !tallyChanged(base(), weight) {
		t.Error("weight change not detected")
	}

	count := base()
	count.Against.Count = 1
	if !tallyChanged(base(), count) {
		t.Error("count change not detected")
	}

	quorum := base()
	quorum.QuorumReached = true
	if !tallyChanged(base(), quorum) {
		t.Error("quorum change not detected")
	}
}
