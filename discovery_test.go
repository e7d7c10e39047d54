package govmirror

import (
	"context"
	"testing"
)

func TestDiscoverProposalRange(t *testing.T) {
	tests := []struct {
		name      string
		maxID     int64
		wantFound bool
		wantMax   uint64
		maxProbes int
	}{
		{
			name:      "empty ledger",
			maxID:     -1,
			wantFound: false,
			maxProbes: 2 + linearScanMax + 1, // both seed probes plus the scan
		},
		{
			name:      "single proposal",
			maxID:     0,
			wantFound: true,
			wantMax:   0,
			maxProbes: 9,
		},
		{
			name:      "below first probe",
			maxID:     37,
			wantFound: true,
			wantMax:   37,
			maxProbes: 9,
		},
		{
			name:      "boundary at first probe",
			maxID:     100,
			wantFound: true,
			wantMax:   100,
			maxProbes: 9,
		},
		{
			name:      "boundary 150 within nine reads",
			maxID:     150,
			wantFound: true,
			wantMax:   150,
			maxProbes: 9,
		},
		{
			name:      "deep range stays logarithmic",
			maxID:     4321,
			wantFound: true,
			wantMax:   4321,
			maxProbes: 20,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ledger := newStubLedger(tc.maxID)
			m, _ := newTestMirror(t, ledger, nil, nil)

			r, err := m.DiscoverProposalRange(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.Found != tc.wantFound {
				t.Fatalf("found=%v, want %v", r.Found, tc.wantFound)
			}
			if r.Found && r.Max != tc.wantMax {
				t.Errorf("max=%d, want %d", r.Max, tc.wantMax)
			}
			if probes, _, _, _ := ledger.counts(); probes > tc.maxProbes {
				t.Errorf("used %d probes, want at most %d", probes, tc.maxProbes)
			}
		})
	}
}

func TestDiscoverRangeCeiling(t *testing.T) {
	// Every id up to the ceiling exists; discovery must stop there instead
	// of probing without bound.
	ledger := newStubLedger(1 << 40)
	m, _ := newTestMirror(t, ledger, nil, &Config{ProbeCeiling: 1000})

	r, err := m.DiscoverProposalRange(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Found || r.Max != 1000 {
		t.Fatalf("got %+v, want max at the 1000 ceiling", r)
	}
	if probes, _, _, _ := ledger.counts(); probes > 8 {
		t.Errorf("used %d probes reaching the ceiling, want at most 8", probes)
	}
}

func TestDiscoverRangeLinearFallback(t *testing.T) {
	// Id 0 probes as absent, so the bounded scan must recover the small
	// range behind the hole.
	ledger := newStubLedger(5)
	ledger.missing[0] = true
	m, _ := newTestMirror(t, ledger, nil, nil)

	r, err := m.DiscoverProposalRange(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Found || r.Min != 1 || r.Max != 5 {
		t.Fatalf("got %+v, want [1,5]", r)
	}
}

func TestDiscoverRangeCached(t *testing.T) {
	ledger := newStubLedger(150)
	m, clk := newTestMirror(t, ledger, nil, nil)

	ctx := context.Background()
	if _, err := m.DiscoverProposalRange(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, _, _, _ := ledger.counts()

	if _, err := m.DiscoverProposalRange(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again, _, _, _ := ledger.counts(); again != first {
		t.Errorf("cached discovery issued %d extra probes", again-first)
	}

	// Past the range TTL a new proposal must surface.
	ledger.mu.Lock()
	ledger.maxID = 151
	ledger.mu.Unlock()
	clk.advance(defaultRangeTTL)

	r, err := m.DiscoverProposalRange(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Max != 151 {
		t.Errorf("max=%d after refresh, want 151", r.Max)
	}
}
