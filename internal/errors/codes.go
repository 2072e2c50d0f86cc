package errors

// Code classifies an engine error at the API boundary.
type Code string

const (
	// CodeNotFound reports an expected absence: a missing key or an
	// exhausted iteration. Callers that expect it do not treat it as an
	// error.
	CodeNotFound Code = "NOT_FOUND"

	// CodeRollback reports a write-write conflict; the losing transaction
	// must be rolled back and may be retried.
	CodeRollback Code = "ROLLBACK"

	// CodePrepareConflict reports that a read's visible candidate is a
	// prepared but not yet committed update.
	CodePrepareConflict Code = "PREPARE_CONFLICT"

	// CodeDuplicateKey reports an insert of a key that already exists.
	CodeDuplicateKey Code = "DUPLICATE_KEY"

	// CodeInvalidArgument reports a validation failure: a mis-configured
	// cursor, an undersized block, an illegal configuration string.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodeIO reports a read or write failure from the file layer.
	CodeIO Code = "IO_ERROR"

	// CodeCorruption reports a checksum or structure mismatch in on-disk
	// data. The connection's corruption latch is set alongside it.
	CodeCorruption Code = "CORRUPTION"

	// CodePanic reports unrecoverable corruption encountered during an
	// ordinary read, with neither verify nor quiet-corruption in effect.
	CodePanic Code = "PANIC"

	// CodeNoSpace reports an out-of-capacity condition from the region
	// allocator or the chunk cache.
	CodeNoSpace Code = "NO_SPACE"
)
