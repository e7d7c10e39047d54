// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2018 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"code.cryptopower.dev/group/govmirror"
	"code.cryptopower.dev/group/govmirror/eth"
)

const usage = `govmirror <command> [args]

Commands:
  range                  discover the ledger's proposal id range
  proposals              list proposals in the discovered range
  tally <id>             resolve a proposal's current standing
  vote <id> <choice>     cast a ballot (against|for|abstain)
  power [checkpoint]     resolve the configured voter's weight
  watch <id>             track a proposal until interrupted

Configuration is read from the environment (and a .env file in the
working directory, when present). GOVMIRROR_GOVERNOR is required.`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "govmirror: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	verb := os.Args[1]
	args := os.Args[2:]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := initLogRotator(cfg.logFile()); err != nil {
		return err
	}
	setLogLevels(cfg.DebugLevel)
	log.Infof("starting with %s", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ethCfg := eth.Config{
		RPCURL:     cfg.RPCURL,
		Governor:   common.HexToAddress(cfg.Governor),
		StartBlock: cfg.StartBlock,
	}
	if cfg.Token != "" {
		ethCfg.Token = common.HexToAddress(cfg.Token)
	}
	if cfg.VoterKey != "" {
		ethCfg.Transactor, err = eth.NewTransactor(ctx, cfg.RPCURL, cfg.VoterKey)
		if err != nil {
			return err
		}
		if cfg.Voter == "" {
			cfg.Voter = ethCfg.Transactor.From.Hex()
		}
	}

	client, err := eth.NewClient(ctx, ethCfg)
	if err != nil {
		return err
	}
	defer client.Close()

	mirror, err := govmirror.New(client, client, &govmirror.Config{Voter: cfg.Voter})
	if err != nil {
		return err
	}
	defer mirror.Shutdown()

	switch verb {
	case "range":
		return printRange(ctx, mirror)
	case "proposals":
		return printProposals(ctx, mirror)
	case "tally":
		id, err := idArg(args, 0)
		if err != nil {
			return err
		}
		return printTally(ctx, mirror, id)
	case "vote":
		id, err := idArg(args, 0)
		if err != nil {
			return err
		}
		if len(args) < 2 {
			return fmt.Errorf("vote requires a choice (against|for|abstain)")
		}
		choice, err := govmirror.VoteChoiceFromStr(args[1])
		if err != nil {
			return err
		}
		return castVote(ctx, mirror, id, choice)
	case "power":
		var checkpoint uint64
		if len(args) > 0 {
			checkpoint, err = idArg(args, 0)
			if err != nil {
				return err
			}
		} else {
			checkpoint, err = mirror.CurrentCheckpoint(ctx)
			if err != nil {
				return err
			}
		}
		return printPower(ctx, mirror, checkpoint)
	case "watch":
		id, err := idArg(args, 0)
		if err != nil {
			return err
		}
		return watch(ctx, mirror, id)
	default:
		fmt.Fprintln(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", verb)
	}
}

func idArg(args []string, pos int) (uint64, error) {
	if len(args) <= pos {
		return 0, fmt.Errorf("a proposal id is required")
	}
	id, err := strconv.ParseUint(args[pos], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("proposal id %q: %v", args[pos], err)
	}
	return id, nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printRange(ctx context.Context, m *govmirror.Mirror) error {
	r, err := m.DiscoverProposalRange(ctx)
	if err != nil {
		return err
	}
	if !r.Found {
		fmt.Println("ledger holds no proposals")
		return nil
	}
	return printJSON(r)
}

func printProposals(ctx context.Context, m *govmirror.Mirror) error {
	props, err := m.Proposals(ctx, govmirror.ProposalCategoryAll, 0, 0, true)
	if err != nil {
		return err
	}
	for _, p := range props {
		fmt.Printf("%4d  %-10s  checkpoint=%d  %s\n", p.ID, p.State, p.Snapshot, firstLine(p.Description))
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func printTally(ctx context.Context, m *govmirror.Mirror, id uint64) error {
	t, err := m.ResolveTally(ctx, id, true)
	if err != nil {
		return err
	}
	return printJSON(t)
}

func castVote(ctx context.Context, m *govmirror.Mirror, id uint64, choice govmirror.VoteChoice) error {
	receipt, err := m.SubmitVote(ctx, id, choice)
	if err != nil {
		return err
	}
	fmt.Printf("vote committed in tx %s, weight %s\n", receipt.TxHash, govmirror.FormatWeight(receipt.Weight))

	// Give the reconciliation loop a window to observe the vote so the
	// closing tally printed below reflects authoritative state.
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(5 * time.Second):
	}
	return printTally(ctx, m, id)
}

func printPower(ctx context.Context, m *govmirror.Mirror, checkpoint uint64) error {
	weight, err := m.VotingPower(ctx, checkpoint)
	if err != nil {
		return err
	}
	fmt.Printf("voting power at checkpoint %d: %s\n", checkpoint, govmirror.FormatWeight(weight))
	return nil
}

// watchListener prints tracked-proposal updates until the context ends.
type watchListener struct{}

func (watchListener) OnTallyUpdated(t *govmirror.TallyResult) {
	fmt.Printf("[%s] proposal %d: for=%.2f against=%.2f abstain=%.2f voters=%d quorum=%v (%s)\n",
		t.ComputedAt.Format("15:04:05"), t.ProposalID,
		t.For.WeightCoin, t.Against.WeightCoin, t.Abstain.WeightCoin,
		t.UniqueVoters, t.QuorumReached, t.Provenance)
}

func (watchListener) OnProposalStateChanged(id uint64, prev, cur govmirror.ProposalState) {
	fmt.Printf("proposal %d moved %s -> %s\n", id, prev, cur)
}

func (watchListener) OnVoteReconciled(r *govmirror.VoteReceipt) {
	fmt.Printf("vote by %s on proposal %d reconciled\n", r.Voter, r.ProposalID)
}

func watch(ctx context.Context, m *govmirror.Mirror, id uint64) error {
	if err := m.AddNotificationListener(watchListener{}, "cli"); err != nil {
		return err
	}
	defer m.RemoveNotificationListener("cli")

	if err := m.Track(id, 15*time.Second); err != nil {
		return err
	}
	defer m.Untrack(id)

	<-ctx.Done()
	return nil
}
