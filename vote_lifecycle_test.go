package govmirror_test

import (
	"context"
	"math/big"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"code.cryptopower.dev/group/govmirror"
)

// fakeLedger is a LedgerClient and WeightSource backed by an in-memory vote
// log, exercised through the public API only.
type fakeLedger struct {
	mu     sync.Mutex
	maxID  uint64
	events map[uint64][]govmirror.VoteRecord
	power  map[string]*big.Int
	seq    uint64
}

func newFakeLedger(maxID uint64) *fakeLedger {
	return &fakeLedger{
		maxID:  maxID,
		events: make(map[uint64][]govmirror.VoteRecord),
		power:  make(map[string]*big.Int),
	}
}

func (f *fakeLedger) landVote(id uint64, voter string, choice govmirror.VoteChoice, weight int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.events[id] = append(f.events[id], govmirror.VoteRecord{
		ProposalID: id,
		Voter:      voter,
		Choice:     choice,
		Weight:     big.NewInt(weight),
		Sequence:   f.seq,
	})
}

func (f *fakeLedger) notFound(id uint64) error {
	return govmirror.Error{
		Err:         govmirror.ErrNotFound,
		Description: "unknown proposal",
	}
}

func (f *fakeLedger) ProposalState(_ context.Context, id uint64) (govmirror.ProposalState, error) {
	if id > f.maxID {
		return 0, f.notFound(id)
	}
	return govmirror.StateActive, nil
}

func (f *fakeLedger) Proposal(_ context.Context, id uint64) (*govmirror.Proposal, error) {
	if id > f.maxID {
		return nil, f.notFound(id)
	}
	return &govmirror.Proposal{ID: id, State: govmirror.StateActive, Snapshot: 7}, nil
}

func (f *fakeLedger) ProposalTally(_ context.Context, id uint64) (*govmirror.TallyResult, error) {
	return nil, govmirror.Error{Err: govmirror.ErrUnsupported, Description: "no aggregate getter"}
}

func (f *fakeLedger) ChoiceWeight(_ context.Context, id uint64, _ govmirror.VoteChoice) (*big.Int, error) {
	return nil, govmirror.Error{Err: govmirror.ErrUnsupported, Description: "no per-choice getter"}
}

func (f *fakeLedger) VoteEvents(_ context.Context, id uint64) ([]govmirror.VoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]govmirror.VoteRecord(nil), f.events[id]...), nil
}

func (f *fakeLedger) HasVoted(_ context.Context, id uint64, voter string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.events[id] {
		if rec.Voter == voter {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedger) Params(context.Context) (*govmirror.Params, error) {
	return &govmirror.Params{Quorum: big.NewInt(100)}, nil
}

func (f *fakeLedger) CurrentCheckpoint(context.Context) (uint64, error) {
	return 7, nil
}

func (f *fakeLedger) SubmitVote(_ context.Context, id uint64, choice govmirror.VoteChoice) (*govmirror.VoteReceipt, error) {
	return &govmirror.VoteReceipt{
		ProposalID: id,
		Voter:      "0xCAFE",
		Choice:     choice,
		Weight:     big.NewInt(42),
		TxHash:     "0xfeed",
	}, nil
}

func (f *fakeLedger) BalanceAt(_ context.Context, holder string, _ uint64) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.power[holder]; ok {
		return new(big.Int).Set(p), nil
	}
	return new(big.Int), nil
}

func (f *fakeLedger) DelegateOf(context.Context, string) (string, error) {
	return "", nil
}

func (f *fakeLedger) DelegatedToAt(context.Context, string, uint64) (*big.Int, error) {
	return new(big.Int), nil
}

var _ = Describe("vote lifecycle", func() {
	var (
		ledger *fakeLedger
		mirror *govmirror.Mirror
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		ledger = newFakeLedger(3)
		ledger.power["0xCAFE"] = big.NewInt(42)
		ledger.landVote(1, "0xBEEF", govmirror.ChoiceAgainst, 100)

		var err error
		mirror, err = govmirror.New(ledger, ledger, &govmirror.Config{
			Voter:             "0xCAFE",
			ReconcileDelay:    5 * time.Millisecond,
			ReconcileMaxDelay: 20 * time.Millisecond,
			ReconcileTries:    100,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		mirror.Shutdown()
	})

	It("serves the replayed standing before any local vote", func() {
		tally, err := mirror.ResolveTally(ctx, 1, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(tally.Provenance).To(Equal(govmirror.ProvenanceEvents))
		Expect(tally.Against.Weight.Int64()).To(Equal(int64(100)))
		Expect(tally.UniqueVoters).To(Equal(1))
		Expect(tally.QuorumReached).To(BeTrue())
	})

	It("overlays a submitted vote once and converges with the ledger", func() {
		receipt, err := mirror.SubmitVote(ctx, 1, govmirror.ChoiceFor)
		Expect(err).NotTo(HaveOccurred())
		Expect(receipt.Weight.Int64()).To(Equal(int64(42)))

		// Pre-confirmation reads show the vote exactly once.
		tally, err := mirror.ResolveTally(ctx, 1, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(tally.For.Weight.Int64()).To(Equal(int64(42)))
		Expect(tally.UniqueVoters).To(Equal(2))

		tally, err = mirror.ResolveTally(ctx, 1, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(tally.For.Weight.Int64()).To(Equal(int64(42)))
		Expect(tally.UniqueVoters).To(Equal(2))

		voted, err := mirror.HasVoted(ctx, 1, "0xCAFE")
		Expect(err).NotTo(HaveOccurred())
		Expect(voted).To(BeTrue())

		// The remote log catches up; forced reads must match it exactly,
		// with the overlay retired rather than double counted.
		ledger.landVote(1, "0xCAFE", govmirror.ChoiceFor, 42)

		Eventually(func() int64 {
			t, err := mirror.ResolveTally(ctx, 1, true)
			if err != nil {
				return -1
			}
			return t.For.Weight.Int64()
		}, "5s", "20ms").Should(Equal(int64(42)))

		final, err := mirror.ResolveTally(ctx, 1, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(final.Provenance).To(Equal(govmirror.ProvenanceEvents))
		Expect(final.For.Count).To(Equal(uint64(1)))
		Expect(final.UniqueVoters).To(Equal(2))
		Expect(final.TotalWeight.Int64()).To(Equal(int64(142)))
	})

	It("discovers the proposal range it then lists from", func() {
		r, err := mirror.DiscoverProposalRange(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Found).To(BeTrue())
		Expect(r.Max).To(Equal(uint64(3)))

		props, err := mirror.Proposals(ctx, govmirror.ProposalCategoryAll, 0, 0, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(props).To(HaveLen(4))
		Expect(props[0].ID).To(Equal(uint64(3)))
	})
})
