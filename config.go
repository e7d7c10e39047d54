package govmirror

import "time"

// Defaults for the cache TTL bands, the optimistic overlay and the
// post-submission reconciliation schedule.
const (
	defaultActiveTallyTTL  = 30 * time.Second
	defaultActiveRecordTTL = time.Minute
	defaultSettledTTL      = 7 * 24 * time.Hour
	defaultRangeTTL        = 2 * time.Minute
	defaultParamsTTL       = time.Hour
	defaultPowerTTL        = 7 * 24 * time.Hour

	defaultOverlayMaxAge = 60 * time.Second

	defaultReconcileDelay    = 2 * time.Second
	defaultReconcileBackoff  = 1.5
	defaultReconcileMaxDelay = 10 * time.Second
	defaultReconcileTries    = 5

	defaultProbeCeiling = 10000
)

// Config tunes a Mirror. Every zero field selects its default, so the zero
// Config is usable for read-only consumers.
type Config struct {
	// Voter is the account vote submissions are attributed to, in the
	// encoding the ledger client expects. Read-only consumers may leave
	// it empty; SubmitVote then fails up front.
	Voter string

	// TTL bands. Entries whose underlying data can still change use the
	// Active* bands; immutable entries use SettledTTL.
	ActiveTallyTTL  time.Duration
	ActiveRecordTTL time.Duration
	SettledTTL      time.Duration
	RangeTTL        time.Duration
	ParamsTTL       time.Duration
	PowerTTL        time.Duration

	// OverlayMaxAge bounds how long a pending local vote keeps being
	// merged into reads before it is considered stale and dropped.
	OverlayMaxAge time.Duration

	// Reconciliation schedule applied after a confirmed submission until
	// the authoritative state reflects the vote.
	ReconcileDelay    time.Duration
	ReconcileBackoff  float64
	ReconcileMaxDelay time.Duration
	ReconcileTries    int

	// ProbeCeiling bounds the exponential phase of range discovery.
	ProbeCeiling uint64
}

func (cfg *Config) setDefaults() {
	if cfg.ActiveTallyTTL <= 0 {
		cfg.ActiveTallyTTL = defaultActiveTallyTTL
	}
	if cfg.ActiveRecordTTL <= 0 {
		cfg.ActiveRecordTTL = defaultActiveRecordTTL
	}
	if cfg.SettledTTL <= 0 {
		cfg.SettledTTL = defaultSettledTTL
	}
	if cfg.RangeTTL <= 0 {
		cfg.RangeTTL = defaultRangeTTL
	}
	if cfg.ParamsTTL <= 0 {
		cfg.ParamsTTL = defaultParamsTTL
	}
	if cfg.PowerTTL <= 0 {
		cfg.PowerTTL = defaultPowerTTL
	}
	if cfg.OverlayMaxAge <= 0 {
		cfg.OverlayMaxAge = defaultOverlayMaxAge
	}
	if cfg.ReconcileDelay <= 0 {
		cfg.ReconcileDelay = defaultReconcileDelay
	}
	if cfg.ReconcileBackoff < 1 {
		cfg.ReconcileBackoff = defaultReconcileBackoff
	}
	if cfg.ReconcileMaxDelay <= 0 {
		cfg.ReconcileMaxDelay = defaultReconcileMaxDelay
	}
	if cfg.ReconcileTries <= 0 {
		cfg.ReconcileTries = defaultReconcileTries
	}
	if cfg.ProbeCeiling == 0 {
		cfg.ProbeCeiling = defaultProbeCeiling
	}
}

// tallyTTL selects the cache lifetime of a tally by proposal lifecycle.
// Concluded tallies are immutable and outlive active ones by orders of
// magnitude.
func (cfg *Config) tallyTTL(state ProposalState) time.Duration {
	if state.VotingConcluded() {
		return cfg.SettledTTL
	}
	return cfg.ActiveTallyTTL
}

func (cfg *Config) proposalTTL(state ProposalState) time.Duration {
	if state.Terminal() {
		return cfg.SettledTTL
	}
	return cfg.ActiveRecordTTL
}

func (cfg *Config) votedTTL(state ProposalState) time.Duration {
	if state.VotingConcluded() {
		return cfg.SettledTTL
	}
	return cfg.ActiveTallyTTL
}
