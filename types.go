package govmirror

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// VoteChoice is a ballot option in the wire encoding used by the governance
// ledger's vote submission and vote cast records.
type VoteChoice uint8

const (
	ChoiceAgainst VoteChoice = iota
	ChoiceFor
	ChoiceAbstain
)

// String returns the VoteChoice as a human-readable name.
func (c VoteChoice) String() string {
	switch c {
	case ChoiceAgainst:
		return "against"
	case ChoiceFor:
		return "for"
	case ChoiceAbstain:
		return "abstain"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Valid reports whether the choice is one the ledger accepts.
func (c VoteChoice) Valid() bool {
	return c <= ChoiceAbstain
}

// VoteChoiceFromStr creates a VoteChoice from the provided choice name.
func VoteChoiceFromStr(choice string) (VoteChoice, error) {
	switch strings.ToLower(choice) {
	case "against", "no":
		return ChoiceAgainst, nil
	case "for", "yes":
		return ChoiceFor, nil
	case "abstain":
		return ChoiceAbstain, nil
	default:
		return 0, fmt.Errorf("unknown vote choice %q", choice)
	}
}

// ProposalState is a proposal lifecycle state in the ledger's enum order.
type ProposalState uint8

const (
	StatePending ProposalState = iota
	StateActive
	StateCanceled
	StateDefeated
	StateSucceeded
	StateQueued
	StateExpired
	StateExecuted
)

// String returns the ProposalState as a human-readable name.
func (s ProposalState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateCanceled:
		return "canceled"
	case StateDefeated:
		return "defeated"
	case StateSucceeded:
		return "succeeded"
	case StateQueued:
		return "queued"
	case StateExpired:
		return "expired"
	case StateExecuted:
		return "executed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid reports whether the state is part of the ledger's enum.
func (s ProposalState) Valid() bool {
	return s <= StateExecuted
}

// VotingConcluded reports whether the proposal can no longer accumulate
// votes. Concluded tallies are immutable and may be cached for a long time.
func (s ProposalState) VotingConcluded() bool {
	return s != StatePending && s != StateActive
}

// Terminal reports whether the proposal record itself can no longer change.
func (s ProposalState) Terminal() bool {
	switch s {
	case StateCanceled, StateDefeated, StateExpired, StateExecuted:
		return true
	default:
		return false
	}
}

// Proposal categories for filtered listing and the overview rollup.
const (
	ProposalCategoryAll int32 = iota + 1
	ProposalCategoryPending
	ProposalCategoryActive
	ProposalCategoryPassed
	ProposalCategoryRejected
	ProposalCategoryCanceled
)

// Proposal is a point-in-time copy of a ledger proposal record.
type Proposal struct {
	ID          uint64        `json:"id"`
	State       ProposalState `json:"state"`
	Snapshot    uint64        `json:"snapshot"`
	Deadline    uint64        `json:"deadline"`
	Proposer    string        `json:"proposer"`
	Description string        `json:"description"`
}

// Category maps the proposal's lifecycle state onto a listing category.
func (p *Proposal) Category() int32 {
	switch p.State {
	case StatePending:
		return ProposalCategoryPending
	case StateActive:
		return ProposalCategoryActive
	case StateSucceeded, StateQueued, StateExecuted:
		return ProposalCategoryPassed
	case StateDefeated, StateExpired:
		return ProposalCategoryRejected
	default:
		return ProposalCategoryCanceled
	}
}

// VoteRecord is one decoded entry of the ledger's append-only vote log.
type VoteRecord struct {
	ProposalID uint64     `json:"proposalId"`
	Voter      string     `json:"voter"`
	Choice     VoteChoice `json:"choice"`
	Weight     *big.Int   `json:"weight"`
	Sequence   uint64     `json:"sequence"`
}

// Provenance tags a tally with the pipeline stage that produced it, in
// decreasing order of fidelity.
type Provenance string

const (
	ProvenanceAggregate Provenance = "aggregate"
	ProvenanceEvents    Provenance = "events"
	ProvenancePerChoice Provenance = "per-choice"
	ProvenanceZeroed    Provenance = "zeroed"
)

// ChoiceTally is the accumulated standing of a single ballot option.
// Weight is in base ledger units; WeightCoin and Percent are derived display
// forms.
type ChoiceTally struct {
	Count      uint64   `json:"count"`
	Weight     *big.Int `json:"weight"`
	WeightCoin float64  `json:"weightCoin"`
	Percent    float64  `json:"percent"`
}

// TallyResult is the reconstructed standing of one proposal. TotalWeight is
// always the sum of the three choice weights regardless of how the tally was
// sourced.
type TallyResult struct {
	ProposalID    uint64      `json:"proposalId"`
	Against       ChoiceTally `json:"against"`
	For           ChoiceTally `json:"for"`
	Abstain       ChoiceTally `json:"abstain"`
	TotalWeight   *big.Int    `json:"totalWeight"`
	TotalCoin     float64     `json:"totalCoin"`
	UniqueVoters  int         `json:"uniqueVoters"`
	QuorumReached bool        `json:"quorumReached"`
	Provenance    Provenance  `json:"provenance"`
	ComputedAt    time.Time   `json:"computedAt"`

	// voters is the set of counted voters, known only when the tally was
	// replayed from the event log.
	voters map[string]struct{}
}

// Choice returns the tally bucket for the given ballot option.
func (t *TallyResult) Choice(c VoteChoice) *ChoiceTally {
	switch c {
	case ChoiceFor:
		return &t.For
	case ChoiceAbstain:
		return &t.Abstain
	default:
		return &t.Against
	}
}

// VoterCounted reports whether the authoritative data behind this tally is
// known to include a vote from the given account. A false return with
// non-events provenance means "unknown", not "absent".
func (t *TallyResult) VoterCounted(voter string) bool {
	if t.voters == nil {
		return false
	}
	_, ok := t.voters[normalizeVoter(voter)]
	return ok
}

// clone returns a deep copy safe to mutate without touching cached state.
func (t *TallyResult) clone() *TallyResult {
	cp := *t
	cp.Against.Weight = copyBig(t.Against.Weight)
	cp.For.Weight = copyBig(t.For.Weight)
	cp.Abstain.Weight = copyBig(t.Abstain.Weight)
	cp.TotalWeight = copyBig(t.TotalWeight)
	if t.voters != nil {
		cp.voters = make(map[string]struct{}, len(t.voters))
		for v := range t.voters {
			cp.voters[v] = struct{}{}
		}
	}
	return &cp
}

// MutationStatus is the confirmation state of a locally submitted vote.
type MutationStatus uint8

const (
	MutationUnconfirmed MutationStatus = iota
	MutationConfirmed
	MutationFailed
)

// String returns the MutationStatus as a human-readable name.
func (s MutationStatus) String() string {
	switch s {
	case MutationUnconfirmed:
		return "unconfirmed"
	case MutationConfirmed:
		return "confirmed"
	default:
		return "failed"
	}
}

// PendingMutation is a vote this client submitted that the authoritative
// state does not reflect yet. It is merged into read results and never into
// the cache.
type PendingMutation struct {
	ProposalID  uint64
	Voter       string
	Choice      VoteChoice
	Weight      *big.Int
	SubmittedAt time.Time
	Status      MutationStatus
}

// Params holds the ledger's governance parameters.
type Params struct {
	Quorum       *big.Int `json:"quorum"`
	VotingPeriod uint64   `json:"votingPeriod"`
	VotingDelay  uint64   `json:"votingDelay"`
}

// ProposalRange is the discovered id interval of existing proposals.
// Found is false when the ledger has no proposals at all.
type ProposalRange struct {
	Min   uint64 `json:"min"`
	Max   uint64 `json:"max"`
	Found bool   `json:"found"`
}

// VoteReceipt is the ledger's acknowledgement of a committed vote.
type VoteReceipt struct {
	ProposalID uint64     `json:"proposalId"`
	Voter      string     `json:"voter"`
	Choice     VoteChoice `json:"choice"`
	Weight     *big.Int   `json:"weight"`
	TxHash     string     `json:"txHash"`
}

// Overview is a category rollup over the discovered proposal range.
type Overview struct {
	All      int32 `json:"all"`
	Pending  int32 `json:"pending"`
	Active   int32 `json:"active"`
	Passed   int32 `json:"passed"`
	Rejected int32 `json:"rejected"`
	Canceled int32 `json:"canceled"`
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
