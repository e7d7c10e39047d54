package govmirror

import (
	"context"
	"errors"
	"sync"
	"time"

	"code.cryptopower.dev/group/govmirror/internal/cache"
)

// Mirror reconstructs governance state from an expensive remote ledger and
// serves it from an in-memory cache. Reads degrade through fallback sources
// rather than fail; writes go straight to the ledger and are bridged by an
// optimistic overlay until the authoritative state catches up.
//
// A Mirror keeps no persisted state. Every restart begins cold and rebuilds
// from the ledger.
type Mirror struct {
	cfg     Config
	ledger  LedgerClient
	weights WeightSource
	cache   *cache.Cache
	overlay *overlayStore

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	notificationListenersMu sync.RWMutex
	notificationListeners   map[string]NotificationListener

	trackMu sync.Mutex
	tracked map[uint64]context.CancelFunc

	now func() time.Time
}

// New creates a Mirror over the given ledger client. weights may be nil for
// consumers that never compute voting power, and cfg may be nil to accept
// every default.
func New(ledger LedgerClient, weights WeightSource, cfg *Config) (*Mirror, error) {
	if ledger == nil {
		return nil, errors.New("a ledger client is required")
	}

	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Mirror{
		cfg:     c,
		ledger:  ledger,
		weights: weights,
		cache:   cache.New(c.ActiveTallyTTL),
		overlay: newOverlayStore(),

		ctx:    ctx,
		cancel: cancel,

		notificationListeners: make(map[string]NotificationListener),
		tracked:               make(map[uint64]context.CancelFunc),

		now: time.Now,
	}, nil
}

// Shutdown cancels every background task and waits for them to finish.
func (m *Mirror) Shutdown() {
	m.cancel()

	m.trackMu.Lock()
	for id, cancel := range m.tracked {
		cancel()
		delete(m.tracked, id)
	}
	m.trackMu.Unlock()

	m.wg.Wait()
	m.cache.Clear()
	log.Info("governance mirror shut down")
}

// GetProposal returns the proposal record, cached on a lifetime chosen by
// its lifecycle state.
func (m *Mirror) GetProposal(ctx context.Context, proposalID uint64) (*Proposal, error) {
	if v, ok := m.cache.Get(proposalKey(proposalID)); ok {
		return v.(*Proposal), nil
	}
	prop, err := m.ledger.Proposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	m.cache.SetWithTTL(proposalKey(proposalID), prop, m.cfg.proposalTTL(prop.State))
	return prop, nil
}

// HasVoted reports whether a vote from the holder is counted on the
// proposal. The caller's own pending, unexpired submission reads as voted
// so this flag cannot disagree with an overlaid tally mid-confirmation.
func (m *Mirror) HasVoted(ctx context.Context, proposalID uint64, voter string) (bool, error) {
	if mut := m.overlay.live(proposalID, voter, m.now(), m.cfg.OverlayMaxAge); mut != nil {
		return true, nil
	}

	state := StateActive
	if v, ok := m.cache.Get(proposalKey(proposalID)); ok {
		state = v.(*Proposal).State
	}

	v, err := m.cache.GetOrCompute(votedKey(proposalID, voter), m.cfg.votedTTL(state), func() (interface{}, error) {
		voted, err := m.ledger.HasVoted(ctx, proposalID, voter)
		if err != nil {
			return nil, err
		}
		return voted, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Params returns the ledger's governance parameters, cached.
func (m *Mirror) Params(ctx context.Context) (*Params, error) {
	return m.getParams(ctx)
}

func (m *Mirror) getParams(ctx context.Context) (*Params, error) {
	v, err := m.cache.GetOrCompute(keyParams, m.cfg.ParamsTTL, func() (interface{}, error) {
		return m.ledger.Params(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Params), nil
}

// CurrentCheckpoint returns the ledger's present checkpoint.
func (m *Mirror) CurrentCheckpoint(ctx context.Context) (uint64, error) {
	return m.ledger.CurrentCheckpoint(ctx)
}
