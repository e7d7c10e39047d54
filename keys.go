package govmirror

import (
	"fmt"
	"strings"
)

// Cache entries are addressed by composite keys so that everything touching
// one proposal shares an id segment and voter-scoped entries can be purged
// by prefix.
const (
	keyRange    = "range"
	keyParams   = "params"
	keyOverview = "overview"
)

func proposalKey(id uint64) string {
	return fmt.Sprintf("proposal/%d", id)
}

func tallyKey(id uint64) string {
	return fmt.Sprintf("tally/%d", id)
}

func votedKey(id uint64, voter string) string {
	return fmt.Sprintf("voted/%d/%s", id, normalizeVoter(voter))
}

func voteKey(id uint64, voter string) string {
	return fmt.Sprintf("vote/%d/%s", id, normalizeVoter(voter))
}

func powerKey(holder string, checkpoint uint64) string {
	return fmt.Sprintf("power/%s/%d", normalizeVoter(holder), checkpoint)
}

// normalizeVoter folds account ids to lower case. Ledger clients report
// mixed-case encodings of the same account depending on the read path.
func normalizeVoter(voter string) string {
	return strings.ToLower(strings.TrimSpace(voter))
}
