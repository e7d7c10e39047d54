package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"code.cryptopower.dev/group/govmirror"
)

// Config describes the on-chain governance deployment a Client talks to.
type Config struct {
	// RPCURL is the JSON-RPC endpoint of a node serving the chain.
	RPCURL string

	// Governor is the governance contract address.
	Governor common.Address

	// Token is the checkpointed governance token address. May be left
	// zero for consumers that never resolve voting power.
	Token common.Address

	// Transactor signs and funds vote submissions. Leaving it nil makes
	// the client read-only.
	Transactor *bind.TransactOpts

	// StartBlock is the governor's deployment height. Log queries scan
	// from here instead of genesis.
	StartBlock uint64
}

// Client implements govmirror.LedgerClient and govmirror.WeightSource
// against a governor contract and its token. It is safe for concurrent use.
type Client struct {
	cfg      Config
	ec       *ethclient.Client
	governor *bind.BoundContract
	token    *bind.BoundContract

	// The aggregate getter either exists on the deployed governor or it
	// does not; a clean revert on the first attempt is remembered so
	// every later tally resolution skips straight to the event log.
	aggMu          sync.Mutex
	aggUnsupported bool
}

var _ govmirror.LedgerClient = (*Client)(nil)
var _ govmirror.WeightSource = (*Client)(nil)

// NewClient dials the node and binds the governance contracts.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("an RPC endpoint is required")
	}
	if cfg.Governor == (common.Address{}) {
		return nil, errors.New("a governor contract address is required")
	}

	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %v", cfg.RPCURL, err)
	}

	c := &Client{
		cfg:      cfg,
		ec:       ec,
		governor: bind.NewBoundContract(cfg.Governor, governorABI, ec, ec, ec),
	}
	if cfg.Token != (common.Address{}) {
		c.token = bind.NewBoundContract(cfg.Token, tokenABI, ec, ec, ec)
	}
	return c, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.ec.Close()
}

// NewTransactor derives signing TransactOpts from a hex-encoded private key,
// bound to the chain id served at rpcURL.
func NewTransactor(ctx context.Context, rpcURL, hexKey string) (*bind.TransactOpts, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse voter key: %v", err)
	}

	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %v", rpcURL, err)
	}
	defer ec.Close()

	chainID, err := ec.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain id: %v", err)
	}
	return bind.NewKeyedTransactorWithChainID(key, chainID)
}

func kindErr(kind govmirror.ErrorKind, format string, args ...interface{}) error {
	return govmirror.Error{Err: kind, Description: fmt.Sprintf(format, args...)}
}

func isRevert(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "revert")
}

func isUnknownProposal(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unknown proposal")
}

func (c *Client) callGovernor(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	err := c.governor.Call(&bind.CallOpts{Context: ctx}, &out, method, params...)
	return out, err
}

func (c *Client) callToken(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	if c.token == nil {
		return nil, kindErr(govmirror.ErrUnsupported, "no token contract configured")
	}
	var out []interface{}
	err := c.token.Call(&bind.CallOpts{Context: ctx}, &out, method, params...)
	return out, err
}

func idArg(id uint64) *big.Int {
	return new(big.Int).SetUint64(id)
}

// ProposalState reads the proposal's lifecycle state. This is the cheapest
// existence probe: an unknown id reverts and maps to a not-found kind.
func (c *Client) ProposalState(ctx context.Context, id uint64) (govmirror.ProposalState, error) {
	out, err := c.callGovernor(ctx, "state", idArg(id))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) || isRevert(err) {
			return 0, kindErr(govmirror.ErrNotFound, "proposal %d: %v", id, err)
		}
		return 0, kindErr(govmirror.ErrTransient, "proposal %d state: %v", id, err)
	}
	raw, ok := out[0].(uint8)
	if !ok {
		return 0, kindErr(govmirror.ErrDecode, "proposal %d state has type %T", id, out[0])
	}
	state := govmirror.ProposalState(raw)
	if !state.Valid() {
		return 0, kindErr(govmirror.ErrDecode, "proposal %d reports unknown state %d", id, raw)
	}
	return state, nil
}

// Proposal reads the record's state and decodes the rest from the creation
// log entry. When the entry is missing or malformed the checkpoint falls
// back to the chain's current height, which is an approximation the caller
// is warned about.
func (c *Client) Proposal(ctx context.Context, id uint64) (*govmirror.Proposal, error) {
	state, err := c.ProposalState(ctx, id)
	if err != nil {
		return nil, err
	}
	prop := &govmirror.Proposal{ID: id, State: state}

	logs, err := c.ec.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: idArg(c.cfg.StartBlock),
		Addresses: []common.Address{c.cfg.Governor},
		Topics:    [][]common.Hash{{proposalCreatedID}, {idTopic(id)}},
	})
	switch {
	case err != nil:
		log.Warnf("creation entry query for proposal %d failed (%v), using current checkpoint", id, err)
	case len(logs) == 0:
		log.Warnf("no creation entry for proposal %d, using current checkpoint", id)
	default:
		proposer, start, end, description, derr := decodeProposalCreated(logs[0])
		if derr != nil {
			log.Warnf("creation entry for proposal %d undecodable (%v), using current checkpoint", id, derr)
			break
		}
		prop.Proposer = proposer.Hex()
		prop.Snapshot = start
		prop.Deadline = end
		prop.Description = description
		return prop, nil
	}

	current, cerr := c.CurrentCheckpoint(ctx)
	if cerr != nil {
		return nil, kindErr(govmirror.ErrTransient, "proposal %d checkpoint fallback: %v", id, cerr)
	}
	prop.Snapshot = current
	return prop, nil
}

// ProposalTally is the aggregate read: one call returning weight and voter
// count per choice. Governors deployed without the getter revert cleanly;
// that is remembered and reported as an unsupported kind from then on.
func (c *Client) ProposalTally(ctx context.Context, id uint64) (*govmirror.TallyResult, error) {
	c.aggMu.Lock()
	unsupported := c.aggUnsupported
	c.aggMu.Unlock()
	if unsupported {
		return nil, kindErr(govmirror.ErrUnsupported, "governor lacks the aggregate tally getter")
	}

	out, err := c.callGovernor(ctx, "proposalVotes", idArg(id))
	if err != nil {
		if isUnknownProposal(err) {
			return nil, kindErr(govmirror.ErrNotFound, "proposal %d: %v", id, err)
		}
		if isRevert(err) {
			c.aggMu.Lock()
			c.aggUnsupported = true
			c.aggMu.Unlock()
			log.Debugf("aggregate tally getter unavailable on %s: %v", c.cfg.Governor.Hex(), err)
			return nil, kindErr(govmirror.ErrUnsupported, "governor lacks the aggregate tally getter")
		}
		return nil, kindErr(govmirror.ErrTransient, "proposal %d aggregate read: %v", id, err)
	}
	if len(out) != 6 {
		return nil, kindErr(govmirror.ErrDecode, "aggregate read returned %d values, want 6", len(out))
	}

	weights := make([]*big.Int, 3)
	counts := make([]uint64, 3)
	for i := 0; i < 3; i++ {
		w, ok := out[i].(*big.Int)
		if !ok {
			return nil, kindErr(govmirror.ErrDecode, "aggregate weight %d has type %T", i, out[i])
		}
		weights[i] = w
		n, ok := out[i+3].(*big.Int)
		if !ok {
			return nil, kindErr(govmirror.ErrDecode, "aggregate count %d has type %T", i, out[i+3])
		}
		counts[i] = n.Uint64()
	}

	return &govmirror.TallyResult{
		ProposalID: id,
		Against:    govmirror.ChoiceTally{Count: counts[0], Weight: weights[0]},
		For:        govmirror.ChoiceTally{Count: counts[1], Weight: weights[1]},
		Abstain:    govmirror.ChoiceTally{Count: counts[2], Weight: weights[2]},
	}, nil
}

// ChoiceWeight reads the accumulated weight of one ballot option.
func (c *Client) ChoiceWeight(ctx context.Context, id uint64, choice govmirror.VoteChoice) (*big.Int, error) {
	out, err := c.callGovernor(ctx, "choiceWeight", idArg(id), uint8(choice))
	if err != nil {
		if isUnknownProposal(err) {
			return nil, kindErr(govmirror.ErrNotFound, "proposal %d: %v", id, err)
		}
		if isRevert(err) {
			return nil, kindErr(govmirror.ErrUnsupported, "per-choice getter unavailable: %v", err)
		}
		return nil, kindErr(govmirror.ErrTransient, "proposal %d choice %s: %v", id, choice, err)
	}
	w, ok := out[0].(*big.Int)
	if !ok {
		return nil, kindErr(govmirror.ErrDecode, "choice weight has type %T", out[0])
	}
	return w, nil
}

// VoteEvents returns the proposal's decoded VoteCast entries in log order.
// Entries that fail to decode are skipped with a warning rather than
// failing the whole replay.
func (c *Client) VoteEvents(ctx context.Context, id uint64) ([]govmirror.VoteRecord, error) {
	logs, err := c.ec.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: idArg(c.cfg.StartBlock),
		Addresses: []common.Address{c.cfg.Governor},
		Topics:    [][]common.Hash{{voteCastID}, nil, {idTopic(id)}},
	})
	if err != nil {
		return nil, kindErr(govmirror.ErrTransient, "vote log query for proposal %d: %v", id, err)
	}

	records := make([]govmirror.VoteRecord, 0, len(logs))
	for _, lg := range logs {
		rec, err := decodeVoteCast(lg)
		if err != nil {
			log.Warnf("skipping vote log %s#%d: %v", lg.TxHash.Hex(), lg.Index, err)
			continue
		}
		rec.ProposalID = id
		records = append(records, rec)
	}
	return records, nil
}

// HasVoted reports whether the governor counts a vote from the account.
func (c *Client) HasVoted(ctx context.Context, id uint64, voter string) (bool, error) {
	out, err := c.callGovernor(ctx, "hasVoted", idArg(id), common.HexToAddress(voter))
	if err != nil {
		if isUnknownProposal(err) || isRevert(err) {
			return false, kindErr(govmirror.ErrNotFound, "proposal %d: %v", id, err)
		}
		return false, kindErr(govmirror.ErrTransient, "proposal %d voted flag: %v", id, err)
	}
	voted, ok := out[0].(bool)
	if !ok {
		return false, kindErr(govmirror.ErrDecode, "voted flag has type %T", out[0])
	}
	return voted, nil
}

// Params reads the governor's quorum and scheduling parameters.
func (c *Client) Params(ctx context.Context) (*govmirror.Params, error) {
	params := &govmirror.Params{}

	out, err := c.callGovernor(ctx, "quorumVotes")
	if err != nil {
		return nil, kindErr(govmirror.ErrTransient, "quorum read: %v", err)
	}
	quorum, ok := out[0].(*big.Int)
	if !ok {
		return nil, kindErr(govmirror.ErrDecode, "quorum has type %T", out[0])
	}
	params.Quorum = quorum

	out, err = c.callGovernor(ctx, "votingPeriod")
	if err != nil {
		return nil, kindErr(govmirror.ErrTransient, "voting period read: %v", err)
	}
	if period, ok := out[0].(*big.Int); ok {
		params.VotingPeriod = period.Uint64()
	}

	out, err = c.callGovernor(ctx, "votingDelay")
	if err != nil {
		return nil, kindErr(govmirror.ErrTransient, "voting delay read: %v", err)
	}
	if delay, ok := out[0].(*big.Int); ok {
		params.VotingDelay = delay.Uint64()
	}
	return params, nil
}

// CurrentCheckpoint returns the chain head height.
func (c *Client) CurrentCheckpoint(ctx context.Context) (uint64, error) {
	height, err := c.ec.BlockNumber(ctx)
	if err != nil {
		return 0, kindErr(govmirror.ErrTransient, "chain height: %v", err)
	}
	return height, nil
}

// SubmitVote casts a ballot through the configured transactor and blocks
// until the transaction is mined. The raw node error is returned on
// failure; the caller normalizes it into its user-facing classes.
func (c *Client) SubmitVote(ctx context.Context, id uint64, choice govmirror.VoteChoice) (*govmirror.VoteReceipt, error) {
	if c.cfg.Transactor == nil {
		return nil, kindErr(govmirror.ErrUnsupported, "client is read-only, no transactor configured")
	}

	tx, err := c.governor.Transact(c.cfg.Transactor, "castVote", idArg(id), uint8(choice))
	if err != nil {
		return nil, err
	}
	log.Infof("vote on proposal %d submitted in tx %s", id, tx.Hash().Hex())

	mined, err := bind.WaitMined(ctx, c.ec, tx)
	if err != nil {
		return nil, fmt.Errorf("awaiting vote commit: %v", err)
	}
	if mined.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("vote tx %s reverted on execution", tx.Hash().Hex())
	}

	receipt := &govmirror.VoteReceipt{
		ProposalID: id,
		Voter:      c.cfg.Transactor.From.Hex(),
		Choice:     choice,
		Weight:     new(big.Int),
		TxHash:     tx.Hash().Hex(),
	}
	for _, lg := range mined.Logs {
		if lg.Address != c.cfg.Governor || len(lg.Topics) == 0 || lg.Topics[0] != voteCastID {
			continue
		}
		if rec, derr := decodeVoteCast(*lg); derr == nil {
			receipt.Weight = rec.Weight
		}
	}
	return receipt, nil
}

// BalanceAt returns the holder's token balance at the checkpoint.
func (c *Client) BalanceAt(ctx context.Context, holder string, checkpoint uint64) (*big.Int, error) {
	out, err := c.callToken(ctx, "balanceOfAt", common.HexToAddress(holder), idArg(checkpoint))
	if err != nil {
		return nil, weightReadError("balance", holder, err)
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, kindErr(govmirror.ErrDecode, "balance has type %T", out[0])
	}
	return balance, nil
}

// DelegateOf returns the holder's current delegate, or "" when the holder
// never delegated.
func (c *Client) DelegateOf(ctx context.Context, holder string) (string, error) {
	out, err := c.callToken(ctx, "delegates", common.HexToAddress(holder))
	if err != nil {
		return "", weightReadError("delegate", holder, err)
	}
	delegate, ok := out[0].(common.Address)
	if !ok {
		return "", kindErr(govmirror.ErrDecode, "delegate has type %T", out[0])
	}
	if delegate == (common.Address{}) {
		return "", nil
	}
	return delegate.Hex(), nil
}

// DelegatedToAt returns the total weight delegated to the holder at the
// checkpoint.
func (c *Client) DelegatedToAt(ctx context.Context, holder string, checkpoint uint64) (*big.Int, error) {
	out, err := c.callToken(ctx, "delegatedToAt", common.HexToAddress(holder), idArg(checkpoint))
	if err != nil {
		return nil, weightReadError("delegated weight", holder, err)
	}
	delegated, ok := out[0].(*big.Int)
	if !ok {
		return nil, kindErr(govmirror.ErrDecode, "delegated weight has type %T", out[0])
	}
	return delegated, nil
}

func weightReadError(what, holder string, err error) error {
	var kinded govmirror.Error
	if errors.As(err, &kinded) {
		return err
	}
	if isRevert(err) {
		return kindErr(govmirror.ErrUnsupported, "%s read for %s: %v", what, holder, err)
	}
	return kindErr(govmirror.ErrTransient, "%s read for %s: %v", what, holder, err)
}
