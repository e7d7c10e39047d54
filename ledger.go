package govmirror

import (
	"context"
	"math/big"
)

// LedgerClient is the remote governance ledger surface the library
// reconstructs state from. Remote reads are expensive and independent;
// implementations are expected to be safe for concurrent use and to honor
// context cancellation on every call.
//
// Point lookups return an ErrNotFound kind when the id has no record.
// ProposalTally returns an ErrUnsupported kind when the ledger lacks an
// aggregate getter; the resolution pipeline then falls back to the event log.
type LedgerClient interface {
	// ProposalState is the cheapest existence probe for an id.
	ProposalState(ctx context.Context, id uint64) (ProposalState, error)

	// Proposal returns the full record, including the checkpoint fixed at
	// creation time.
	Proposal(ctx context.Context, id uint64) (*Proposal, error)

	// ProposalTally is the single aggregate-read attempt of the
	// resolution pipeline.
	ProposalTally(ctx context.Context, id uint64) (*TallyResult, error)

	// ChoiceWeight is a per-choice point read used when both the
	// aggregate getter and the event log are unavailable.
	ChoiceWeight(ctx context.Context, id uint64, choice VoteChoice) (*big.Int, error)

	// VoteEvents returns the proposal's decoded vote log in append order.
	VoteEvents(ctx context.Context, id uint64) ([]VoteRecord, error)

	// HasVoted reports whether the ledger has counted a vote from the
	// given account.
	HasVoted(ctx context.Context, id uint64, voter string) (bool, error)

	// Params returns the ledger's governance parameters.
	Params(ctx context.Context) (*Params, error)

	// CurrentCheckpoint returns the ledger's present checkpoint, used
	// when a proposal's own checkpoint cannot be decoded.
	CurrentCheckpoint(ctx context.Context) (uint64, error)

	// SubmitVote submits a ballot and blocks until the ledger reports
	// the submission committed or failed.
	SubmitVote(ctx context.Context, id uint64, choice VoteChoice) (*VoteReceipt, error)
}

// WeightSource resolves checkpointed balances and delegations for voting
// power computation. Checkpointed reads are immutable once the checkpoint
// has passed.
type WeightSource interface {
	BalanceAt(ctx context.Context, holder string, checkpoint uint64) (*big.Int, error)

	// DelegateOf returns the holder's current delegate, or "" when the
	// holder never delegated.
	DelegateOf(ctx context.Context, holder string) (string, error)

	DelegatedToAt(ctx context.Context, holder string, checkpoint uint64) (*big.Int, error)
}
