package settlement

import "fmt"

// ValidationError reports a failed pre-condition. No balance was mutated and
// the run, if one was recorded, ends in the rejected status.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("settlement validation failed: %s", e.Reason)
}

// IntegrityError reports a violated post-run conservation invariant. Balances
// were mutated and must be rolled back from the snapshot.
type IntegrityError struct {
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("settlement integrity violation: %s", e.Detail)
}

// MutationError reports a failed account update mid-run. It triggers the same
// rollback path as an IntegrityError.
type MutationError struct {
	AccountID string
	Err       error
}

func (e *MutationError) Error() string {
	if e.AccountID == "" {
		return fmt.Sprintf("account mutation failed: %v", e.Err)
	}
	return fmt.Sprintf("account %s mutation failed: %v", e.AccountID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// SnapshotError reports a failed snapshot capture or restore. A capture
// failure aborts the run before any mutation; a restore failure after a
// mutation failure is fatal and requires operator intervention.
type SnapshotError struct {
	Op  string
	Err error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot %s failed: %v", e.Op, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }
