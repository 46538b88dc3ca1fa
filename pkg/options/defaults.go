package options

import "time"

const (
	// DefaultDataDir is the default base directory where the engine stores
	// its segment directories and metadata.
	DefaultDataDir = "/var/lib/ignitedb"

	// DefaultCompactInterval is how often the lifecycle controller's
	// background sweep runs when nothing else wakes it sooner.
	DefaultCompactInterval = time.Hour * 5

	// DefaultCheckpointInterval is how often the lifecycle controller
	// flushes tombstone bitmaps and fsyncs writable segments.
	DefaultCheckpointInterval = time.Second * 30

	// DefaultWritableFlushSize is the default on-disk size threshold for
	// freezing the active writable segment (64MiB).
	DefaultWritableFlushSize uint64 = 64 * 1024 * 1024

	// DefaultMergeMaxSize bounds a single adjacent-merge pass (256MiB).
	DefaultMergeMaxSize uint64 = 256 * 1024 * 1024

	// DefaultMergeMaxCount bounds how many adjacent readonly segments are
	// merged in a single pass.
	DefaultMergeMaxCount = 8

	// DefaultPurgeDeleteThreshold is the tombstone-density fraction that
	// triggers a purge.
	DefaultPurgeDeleteThreshold = 0.3

	// DefaultConcurrentReadTickets bounds concurrent read transactions.
	DefaultConcurrentReadTickets int64 = 128

	// DefaultConcurrentWriteTickets bounds concurrent write transactions.
	DefaultConcurrentWriteTickets int64 = 128

	// DefaultRegexMatchMemLimit bounds how many key bytes a regex scan may
	// examine (64MiB).
	DefaultRegexMatchMemLimit uint64 = 64 * 1024 * 1024

	// DefaultUpsertMaxRetry bounds upsert retries before NeedRetry.
	DefaultUpsertMaxRetry = 3

	// DefaultSegmentDirectory is the default SegmentOptions.Directory; the
	// table does not read it.
	DefaultSegmentDirectory = "segments"

	// DefaultSegmentPrefix is the default SegmentOptions.Prefix; the table
	// does not read it.
	DefaultSegmentPrefix = "segment"
)

// defaultOptions holds the default configuration for the engine.
var defaultOptions = Options{
	DataDir:                DefaultDataDir,
	CompactInterval:        DefaultCompactInterval,
	CheckpointInterval:     DefaultCheckpointInterval,
	WritableFlushSize:      DefaultWritableFlushSize,
	MergeMaxSize:           DefaultMergeMaxSize,
	MergeMaxCount:          DefaultMergeMaxCount,
	PurgeDeleteThreshold:   DefaultPurgeDeleteThreshold,
	ConcurrentReadTickets:  DefaultConcurrentReadTickets,
	ConcurrentWriteTickets: DefaultConcurrentWriteTickets,
	RegexMatchMemLimit:     DefaultRegexMatchMemLimit,
	UpsertMaxRetry:         DefaultUpsertMaxRetry,
	SegmentOptions: &segmentOptions{
		Directory: DefaultSegmentDirectory,
		Prefix:    DefaultSegmentPrefix,
	},
}

// NewDefaultOptions returns a fresh copy of the default options, safe for
// the caller to mutate (SegmentOptions is deep-copied so callers cannot
// clobber the shared default).
func NewDefaultOptions() Options {
	cp := defaultOptions
	segCopy := *defaultOptions.SegmentOptions
	cp.SegmentOptions = &segCopy
	return cp
}
