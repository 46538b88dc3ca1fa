package errors

import "errors"

// Kind is the small, closed set of error categories the engine surfaces to
// callers: what a caller actually branches on (retry? surface as absence?
// quarantine a segment?).
type Kind int

const (
	// KindUnknown is never returned by the engine itself; Is/Kind treat any
	// error without a recognized sentinel as unknown.
	KindUnknown Kind = iota

	// KindDuplicateKey: unique-index insert conflict surfaced to the caller.
	KindDuplicateKey

	// KindNotFound: read of a never-existed recId or absent index key.
	KindNotFound

	// KindDeletedRow: read of a tombstoned row.
	KindDeletedRow

	// KindUncommittedRow: read of an id that refers to an in-progress insert
	// in another transaction.
	KindUncommittedRow

	// KindCorrupt: file header mismatch, length mismatch, checksum fail.
	KindCorrupt

	// KindReadConcernUnavailable: majority-snapshot requested before any
	// committed snapshot exists.
	KindReadConcernUnavailable

	// KindNeedRetry: transient contention the caller should retry.
	KindNeedRetry

	// KindStoreInternal: underlying KV error.
	KindStoreInternal

	// KindWriteThrottle: writable segment unavailable, e.g. during freeze
	// handover.
	KindWriteThrottle

	// KindInvariant: programmer bug; treated as fatal.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindDuplicateKey:
		return "DuplicateKey"
	case KindNotFound:
		return "NotFound"
	case KindDeletedRow:
		return "DeletedRow"
	case KindUncommittedRow:
		return "UncommittedRow"
	case KindCorrupt:
		return "Corrupt"
	case KindReadConcernUnavailable:
		return "ReadConcernUnavailable"
	case KindNeedRetry:
		return "NeedRetry"
	case KindStoreInternal:
		return "StoreInternal"
	case KindWriteThrottle:
		return "WriteThrottle"
	case KindInvariant:
		return "Invariant"
	default:
		return "Unknown"
	}
}

// kindError is the minimal wrapper used for the engine-level sentinels
// below. Errors built with Wrap keep the sentinel as their cause, so
// errors.Is against the sentinels keeps working after wrapping.
type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

// Is makes every kindError with the same Kind compare equal under
// errors.Is, regardless of message, so callers can do
// errors.Is(err, errors.ErrDeletedRow) without caring about the exact text.
func (e *kindError) Is(target error) bool {
	var k *kindError
	if errors.As(target, &k) {
		return k.kind == e.kind
	}
	return false
}

func newKind(k Kind, msg string) error { return &kindError{kind: k, msg: msg} }

// Sentinel errors for every Kind in spec §7. Wrap one of these with %w (or
// with Wrap below) to make errors.Is(err, ErrXxx) work from any layer of
// the stack.
var (
	ErrDuplicateKey            = newKind(KindDuplicateKey, "duplicate key")
	ErrNotFound                = newKind(KindNotFound, "not found")
	ErrDeletedRow              = newKind(KindDeletedRow, "row is deleted")
	ErrUncommittedRow          = newKind(KindUncommittedRow, "row is uncommitted")
	ErrCorrupt                 = newKind(KindCorrupt, "corrupt data")
	ErrReadConcernUnavailable  = newKind(KindReadConcernUnavailable, "read concern unavailable")
	ErrNeedRetry               = newKind(KindNeedRetry, "need retry")
	ErrStoreInternal           = newKind(KindStoreInternal, "store internal error")
	ErrWriteThrottle           = newKind(KindWriteThrottle, "write throttled")
	ErrInvariant               = newKind(KindInvariant, "invariant violated")
	ErrAmbiguousUpsert         = errors.New("upsert matched more than one existing row")
)

// Of reports the Kind of err by walking its error chain for one of the
// sentinels above (via errors.Is), returning KindUnknown if none match.
func Of(err error) Kind {
	switch {
	case errors.Is(err, ErrDuplicateKey):
		return KindDuplicateKey
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDeletedRow):
		return KindDeletedRow
	case errors.Is(err, ErrUncommittedRow):
		return KindUncommittedRow
	case errors.Is(err, ErrCorrupt):
		return KindCorrupt
	case errors.Is(err, ErrReadConcernUnavailable):
		return KindReadConcernUnavailable
	case errors.Is(err, ErrNeedRetry):
		return KindNeedRetry
	case errors.Is(err, ErrStoreInternal):
		return KindStoreInternal
	case errors.Is(err, ErrWriteThrottle):
		return KindWriteThrottle
	case errors.Is(err, ErrInvariant):
		return KindInvariant
	default:
		return KindUnknown
	}
}

// Fatal panics with an Invariant-kind error. Invariant violations are
// programmer bugs, not conditions a caller can meaningfully recover from.
func Fatal(msg string) {
	panic(newKind(KindInvariant, msg))
}

// Wrap ties cause (typically one of the sentinels above) to a human message
// while preserving errors.Is against the sentinel.
func Wrap(cause error, msg string) error {
	return &wrapped{cause: cause, msg: msg}
}

type wrapped struct {
	cause error
	msg   string
}

func (w *wrapped) Error() string { return w.msg + ": " + w.cause.Error() }
func (w *wrapped) Unwrap() error { return w.cause }
