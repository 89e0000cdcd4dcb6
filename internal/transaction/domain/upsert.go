package domain

// UpsertOutcome reports what the reconciling write did.
type UpsertOutcome struct {
	Result     UpsertResult
	SkipReason SkipReason
	// StoredEventCount is the event count of the row after the write.
	StoredEventCount int
}

type UpsertResult string

const (
	UpsertInserted UpsertResult = "inserted"
	UpsertUpdated  UpsertResult = "updated"
	UpsertSkipped  UpsertResult = "skipped"
)

type SkipReason string

const (
	SkipNone      SkipReason = ""
	SkipStale     SkipReason = "stale"
	SkipUnchanged SkipReason = "unchanged"
)
