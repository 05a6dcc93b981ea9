package parsercode

import "context"

// BankInfo summarizes the cached state for one bank key.
type BankInfo struct {
	BankKey      string `json:"bank_key"`
	VersionCount int    `json:"version_count"`
	SuccessCount int    `json:"success_count"`
	FailCount    int    `json:"fail_count"`
}

// Store persists parser code versions. Implementations must tolerate
// concurrent readers; counter increments are read-modify-write and may lose
// updates under races (counters are advisory, not authoritative).
type Store interface {
	// ListVersions returns all entries for a bank key, newest version first.
	ListVersions(ctx context.Context, bankKey string) ([]*Entry, error)

	// LatestVersion returns the highest saved version number, 0 if none.
	LatestVersion(ctx context.Context, bankKey string) (int, error)

	// Save persists entry as version LatestVersion+1 and returns the
	// assigned number. Existing versions are never overwritten.
	Save(ctx context.Context, entry *Entry) (int, error)

	// RecordSuccess increments the success counter of one version.
	RecordSuccess(ctx context.Context, bankKey string, version int) error

	// RecordFailure increments the fail counter of one version.
	RecordFailure(ctx context.Context, bankKey string, version int) error

	// Clear deletes every version for a bank key (operator reset) and
	// returns the number of deleted entries.
	Clear(ctx context.Context, bankKey string) (int, error)

	// ListBanks returns a summary for every bank key with cached code.
	ListBanks(ctx context.Context) ([]*BankInfo, error)
}
