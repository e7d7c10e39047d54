package eth

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"code.cryptopower.dev/group/govmirror"
)

// governorABIJSON is the governance contract surface the client consumes.
// Both events index proposalId so per-proposal log queries filter on the
// node instead of client side.
const governorABIJSON = `[
{"type":"function","name":"state","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"","type":"uint8"}]},
{"type":"function","name":"proposalVotes","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"againstVotes","type":"uint256"},{"name":"forVotes","type":"uint256"},{"name":"abstainVotes","type":"uint256"},{"name":"againstCount","type":"uint256"},{"name":"forCount","type":"uint256"},{"name":"abstainCount","type":"uint256"}]},
{"type":"function","name":"choiceWeight","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"},{"name":"support","type":"uint8"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"hasVoted","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"},{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"quorumVotes","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"votingPeriod","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"votingDelay","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"castVote","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"},{"name":"support","type":"uint8"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"event","name":"ProposalCreated","anonymous":false,"inputs":[{"name":"proposalId","type":"uint256","indexed":true},{"name":"proposer","type":"address","indexed":false},{"name":"startBlock","type":"uint256","indexed":false},{"name":"endBlock","type":"uint256","indexed":false},{"name":"description","type":"string","indexed":false}]},
{"type":"event","name":"VoteCast","anonymous":false,"inputs":[{"name":"voter","type":"address","indexed":true},{"name":"proposalId","type":"uint256","indexed":true},{"name":"support","type":"uint8","indexed":false},{"name":"weight","type":"uint256","indexed":false},{"name":"reason","type":"string","indexed":false}]}
]`

// tokenABIJSON is the checkpointed governance token surface used for voting
// power resolution.
const tokenABIJSON = `[
{"type":"function","name":"balanceOfAt","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"checkpoint","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"delegates","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"delegatedToAt","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"checkpoint","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	governorABI = mustParseABI(governorABIJSON)
	tokenABI    = mustParseABI(tokenABIJSON)

	voteCastID        = governorABI.Events["VoteCast"].ID
	proposalCreatedID = governorABI.Events["ProposalCreated"].ID
)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}

func idTopic(id uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(id))
}

// logSequence orders vote events across the whole chain: block number in
// the high bits, per-block log index in the low 16.
func logSequence(lg types.Log) uint64 {
	return lg.BlockNumber<<16 | uint64(lg.Index)&0xffff
}

// decodeVoteCast converts a raw VoteCast log entry into a vote record. The
// reason string the event carries is not part of the record and is dropped.
func decodeVoteCast(lg types.Log) (govmirror.VoteRecord, error) {
	var rec govmirror.VoteRecord
	if len(lg.Topics) < 3 {
		return rec, fmt.Errorf("vote log carries %d topics, want 3", len(lg.Topics))
	}
	vals, err := governorABI.Unpack("VoteCast", lg.Data)
	if err != nil {
		return rec, fmt.Errorf("unpack vote log: %v", err)
	}
	if len(vals) != 3 {
		return rec, fmt.Errorf("vote log unpacked to %d values, want 3", len(vals))
	}

	support, ok := vals[0].(uint8)
	if !ok {
		return rec, fmt.Errorf("vote log support field has type %T", vals[0])
	}
	choice := govmirror.VoteChoice(support)
	if !choice.Valid() {
		return rec, fmt.Errorf("vote log carries unsupported ballot value %d", support)
	}
	weight, ok := vals[1].(*big.Int)
	if !ok {
		return rec, fmt.Errorf("vote log weight field has type %T", vals[1])
	}

	rec.Voter = common.BytesToAddress(lg.Topics[1].Bytes()).Hex()
	rec.Choice = choice
	rec.Weight = weight
	rec.Sequence = logSequence(lg)
	return rec, nil
}

// decodeProposalCreated extracts the creation parameters from a
// ProposalCreated log entry.
func decodeProposalCreated(lg types.Log) (proposer common.Address, startBlock, endBlock uint64, description string, err error) {
	vals, err := governorABI.Unpack("ProposalCreated", lg.Data)
	if err != nil {
		return proposer, 0, 0, "", fmt.Errorf("unpack creation log: %v", err)
	}
	if len(vals) != 4 {
		return proposer, 0, 0, "", fmt.Errorf("creation log unpacked to %d values, want 4", len(vals))
	}

	proposer, ok := vals[0].(common.Address)
	if !ok {
		return proposer, 0, 0, "", fmt.Errorf("creation log proposer field has type %T", vals[0])
	}
	start, ok := vals[1].(*big.Int)
	if !ok {
		return proposer, 0, 0, "", fmt.Errorf("creation log startBlock field has type %T", vals[1])
	}
	end, ok := vals[2].(*big.Int)
	if !ok {
		return proposer, 0, 0, "", fmt.Errorf("creation log endBlock field has type %T", vals[2])
	}
	description, ok = vals[3].(string)
	if !ok {
		return proposer, 0, 0, "", fmt.Errorf("creation log description field has type %T", vals[3])
	}
	return proposer, start.Uint64(), end.Uint64(), description, nil
}
