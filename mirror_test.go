package govmirror

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"
)

// fakeClock drives a Mirror and its cache through simulated time.
type fakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	f.current = f.current.Add(d)
	f.mu.Unlock()
}

// stubLedger is an in-memory LedgerClient. Proposals with ids 0..maxID exist
// (holes punched via missing); richer records can be placed in proposals.
type stubLedger struct {
	mu sync.Mutex

	maxID   int64 // highest existing id, -1 for an empty ledger
	missing map[uint64]bool

	proposals map[uint64]*Proposal

	aggregate map[uint64]*TallyResult
	aggErr    error

	events    map[uint64][]VoteRecord
	eventsErr error

	choiceWeight map[VoteChoice]*big.Int
	choiceErr    error

	voted    map[string]bool
	votedErr error

	params     *Params
	checkpoint uint64

	submitErr     error
	receiptWeight *big.Int

	stateReads  int
	aggReads    int
	eventReads  int
	submitCalls int
}

func newStubLedger(maxID int64) *stubLedger {
	return &stubLedger{
		maxID:     maxID,
		missing:   make(map[uint64]bool),
		proposals: make(map[uint64]*Proposal),
		aggregate: make(map[uint64]*TallyResult),
		events:    make(map[uint64][]VoteRecord),
		voted:     make(map[string]bool),
	}
}

func (s *stubLedger) exists(id uint64) bool {
	return s.maxID >= 0 && id <= uint64(s.maxID) && !s.missing[id]
}

func (s *stubLedger) ProposalState(_ context.Context, id uint64) (ProposalState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateReads++
	if !s.exists(id) {
		return 0, errorf(ErrNotFound, "proposal %d does not exist", id)
	}
	if p, ok := s.proposals[id]; ok {
		return p.State, nil
	}
	return StateActive, nil
}

func (s *stubLedger) Proposal(_ context.Context, id uint64) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists(id) {
		return nil, errorf(ErrNotFound, "proposal %d does not exist", id)
	}
	if p, ok := s.proposals[id]; ok {
		cp := *p
		return &cp, nil
	}
	return &Proposal{ID: id, State: StateActive, Snapshot: s.checkpoint}, nil
}

func (s *stubLedger) ProposalTally(_ context.Context, id uint64) (*TallyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggReads++
	if s.aggErr != nil {
		return nil, s.aggErr
	}
	if t, ok := s.aggregate[id]; ok {
		return t.clone(), nil
	}
	return nil, makeError(ErrUnsupported, "no aggregate getter")
}

func (s *stubLedger) ChoiceWeight(_ context.Context, id uint64, choice VoteChoice) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.choiceErr != nil {
		return nil, s.choiceErr
	}
	w, ok := s.choiceWeight[choice]
	if !ok {
		return nil, makeError(ErrUnsupported, "no per-choice getter")
	}
	return new(big.Int).Set(w), nil
}

func (s *stubLedger) VoteEvents(_ context.Context, id uint64) ([]VoteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventReads++
	if s.eventsErr != nil {
		return nil, s.eventsErr
	}
	return append([]VoteRecord(nil), s.events[id]...), nil
}

func (s *stubLedger) HasVoted(_ context.Context, id uint64, voter string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.votedErr != nil {
		return false, s.votedErr
	}
	return s.voted[votedKey(id, voter)], nil
}

func (s *stubLedger) Params(_ context.Context) (*Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.params != nil {
		return s.params, nil
	}
	return &Params{Quorum: new(big.Int)}, nil
}

func (s *stubLedger) CurrentCheckpoint(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint, nil
}

func (s *stubLedger) SubmitVote(_ context.Context, id uint64, choice VoteChoice) (*VoteReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitCalls++
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &VoteReceipt{
		ProposalID: id,
		Voter:      "0xVOTER",
		Choice:     choice,
		Weight:     copyBig(s.receiptWeight),
		TxHash:     "0xtx",
	}, nil
}

// addVote appends a vote event and marks the voter as counted.
func (s *stubLedger) addVote(id uint64, voter string, choice VoteChoice, weight int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := uint64(len(s.events[id]) + 1)
	s.events[id] = append(s.events[id], VoteRecord{
		ProposalID: id,
		Voter:      voter,
		Choice:     choice,
		Weight:     big.NewInt(weight),
		Sequence:   seq,
	})
	s.voted[votedKey(id, voter)] = true
}

func (s *stubLedger) counts() (stateReads, aggReads, eventReads, submitCalls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateReads, s.aggReads, s.eventReads, s.submitCalls
}

// stubWeights is an in-memory WeightSource keyed by normalized holder id.
type stubWeights struct {
	mu        sync.Mutex
	balances  map[string]*big.Int
	delegated map[string]*big.Int
	delegates map[string]string
	err       error

	balanceReads int
}

func newStubWeights() *stubWeights {
	return &stubWeights{
		balances:  make(map[string]*big.Int),
		delegated: make(map[string]*big.Int),
		delegates: make(map[string]string),
	}
}

func (s *stubWeights) BalanceAt(_ context.Context, holder string, _ uint64) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balanceReads++
	if s.err != nil {
		return nil, s.err
	}
	return copyBig(s.balances[normalizeVoter(holder)]), nil
}

func (s *stubWeights) DelegateOf(_ context.Context, holder string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.delegates[normalizeVoter(holder)], nil
}

func (s *stubWeights) DelegatedToAt(_ context.Context, holder string, _ uint64) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return copyBig(s.delegated[normalizeVoter(holder)]), nil
}

// grant configures a self-delegated holder with the given balance and
// inbound delegation.
func (s *stubWeights) grant(holder string, balance, delegated int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeVoter(holder)
	s.balances[key] = big.NewInt(balance)
	s.delegated[key] = big.NewInt(delegated)
}

// newTestMirror builds a Mirror on simulated time. Reconciliation delays are
// shrunk so background loops finish within test deadlines.
func newTestMirror(t *testing.T, ledger *stubLedger, weights WeightSource, cfg *Config) (*Mirror, *fakeClock) {
	t.Helper()

	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.ReconcileDelay == 0 {
		c.ReconcileDelay = time.Millisecond
	}
	if c.ReconcileMaxDelay == 0 {
		c.ReconcileMaxDelay = 5 * time.Millisecond
	}

	m, err := New(ledger, weights, &c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Shutdown)

	clk := &fakeClock{current: time.Unix(1700000000, 0)}
	m.now = clk.now
	m.cache.SetClock(clk.now)
	return m, clk
}
