// Package options provides data structures and functions for configuring
// the Ignite storage engine. It defines the parameters that control
// segment lifecycle, index behavior and concurrency limits, consumed by the
// core (internal/table, internal/engine, internal/compaction) and never
// loaded from a config file here — file parsing and CLI wiring are the
// embedder's job. SegmentOptions and MmapPopulate are carried but not read
// by the core.
package options

import (
	"strings"
	"time"
)

// segmentOptions holds segment directory naming settings. The table does
// not read them: segment directories are always named seg_<id> directly
// under DataDir.
type segmentOptions struct {
	// Directory is a subdirectory name for segment directories. Not read by
	// the table.
	//
	// Default: "segments"
	Directory string `json:"directory"`

	// Prefix is a directory-name prefix for segments. Not read by the
	// table.
	//
	// Default: "segment"
	Prefix string `json:"prefix"`
}

// Options defines the configuration parameters for the engine. It covers
// storage layout, segment lifecycle thresholds, concurrency limits and
// regex-scan resource bounds; see spec §6 for the authoritative list.
type Options struct {
	// DataDir is the base path where the table's segment directories and
	// engine metadata are stored.
	//
	// Default: "/var/lib/ignitedb"
	DataDir string `json:"dataDir"`

	// CompactInterval is how often the lifecycle controller sweeps for
	// freeze/convert/merge/purge work when nothing else triggers it sooner.
	//
	// Default: 5h
	CompactInterval time.Duration `json:"compactInterval"`

	// CheckpointInterval is how often the lifecycle controller flushes
	// every writable segment's tombstone bitmap and fsyncs its buffered
	// column-group writes, independent of the (much coarser) compaction
	// sweep (spec §4.7 item 5).
	//
	// Default: 30s
	CheckpointInterval time.Duration `json:"checkpointInterval"`

	// WritableFlushSize is the on-disk data size (Segment.DataStorageSize)
	// at which the active writable segment is frozen and a new one opened
	// (spec §4.7.1).
	//
	// Default: 64MiB
	WritableFlushSize uint64 `json:"writableFlushSize"`

	// MergeMaxSize bounds the combined estimated byte size of a run of
	// adjacent readonly segments the controller will merge in one pass.
	MergeMaxSize uint64 `json:"mergeMaxSize"`

	// MergeMaxCount bounds the number of adjacent readonly segments merged
	// in one pass, independent of their combined size.
	MergeMaxCount int `json:"mergeMaxCount"`

	// PurgeDeleteThreshold is the fraction of tombstoned rows in a readonly
	// segment above which the controller schedules a purge.
	//
	// Default: 0.3
	PurgeDeleteThreshold float64 `json:"purgeDeleteThreshold"`

	// ConcurrentReadTickets bounds concurrent read transactions.
	//
	// Default: 128
	ConcurrentReadTickets int64 `json:"concurrentReadTickets"`

	// ConcurrentWriteTickets bounds concurrent write transactions.
	//
	// Default: 128
	ConcurrentWriteTickets int64 `json:"concurrentWriteTickets"`

	// MmapPopulate is carried in the options but not read by the stores: a
	// fixed-length store reopened by segment.OpenReadonly is mapped without
	// MAP_POPULATE, and one just built by fixedstore.Build is mapped with it,
	// whatever this field says.
	MmapPopulate bool `json:"mmapPopulate"`

	// RegexMatchMemLimit bounds how many key bytes a regex scan may examine
	// before it fails with ErrStoreInternal. The scan tests each key against
	// the pattern in turn; no DFA product is built.
	//
	// Default: 64MiB
	RegexMatchMemLimit uint64 `json:"regexMatchMemLimit"`

	// UpsertMaxRetry bounds how many times an upsert retries after losing a
	// race with a concurrent upserter before surfacing NeedRetry.
	//
	// Default: 3
	UpsertMaxRetry int `json:"upsertMaxRetry"`

	// SegmentOptions configures segment directory naming.
	SegmentOptions *segmentOptions `json:"segmentOptions"`
}

// OptionFunc is a function type that modifies the engine's configuration.
type OptionFunc func(*Options)

// WithDefaultOptions applies the full set of default configuration values.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) { *o = NewDefaultOptions() }
}

// WithDataDir sets the primary data directory.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// WithCompactInterval sets the background sweep interval.
func WithCompactInterval(interval time.Duration) OptionFunc {
	return func(o *Options) {
		if interval > 0 {
			o.CompactInterval = interval
		}
	}
}

// WithCheckpointInterval sets the background checkpoint (tombstone-flush +
// fsync) interval.
func WithCheckpointInterval(interval time.Duration) OptionFunc {
	return func(o *Options) {
		if interval > 0 {
			o.CheckpointInterval = interval
		}
	}
}

// WithSegmentDir sets the directory segment directories are stored under.
func WithSegmentDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.SegmentOptions.Directory = directory
		}
	}
}

// WithSegmentPrefix sets the naming prefix for segment directories.
func WithSegmentPrefix(prefix string) OptionFunc {
	return func(o *Options) {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			o.SegmentOptions.Prefix = prefix
		}
	}
}

// WithWritableFlushSize sets the byte threshold that triggers freezing the
// active writable segment.
func WithWritableFlushSize(size uint64) OptionFunc {
	return func(o *Options) {
		if size > 0 {
			o.WritableFlushSize = size
		}
	}
}

// WithMergeBudget sets the adjacent-merge run bounds.
func WithMergeBudget(maxSize uint64, maxCount int) OptionFunc {
	return func(o *Options) {
		if maxSize > 0 {
			o.MergeMaxSize = maxSize
		}
		if maxCount > 0 {
			o.MergeMaxCount = maxCount
		}
	}
}

// WithPurgeDeleteThreshold sets the tombstone-density fraction that
// triggers a purge.
func WithPurgeDeleteThreshold(fraction float64) OptionFunc {
	return func(o *Options) {
		if fraction > 0 && fraction <= 1 {
			o.PurgeDeleteThreshold = fraction
		}
	}
}

// WithConcurrencyTickets sets the bounded read/write transaction ticket
// counts.
func WithConcurrencyTickets(read, write int64) OptionFunc {
	return func(o *Options) {
		if read > 0 {
			o.ConcurrentReadTickets = read
		}
		if write > 0 {
			o.ConcurrentWriteTickets = write
		}
	}
}

// WithMmapPopulate toggles eager page-fault-in for mmapped readonly stores.
func WithMmapPopulate(populate bool) OptionFunc {
	return func(o *Options) { o.MmapPopulate = populate }
}

// WithRegexMatchMemLimit sets the regex-scan key-byte budget.
func WithRegexMatchMemLimit(limit uint64) OptionFunc {
	return func(o *Options) {
		if limit > 0 {
			o.RegexMatchMemLimit = limit
		}
	}
}

// WithUpsertMaxRetry sets the upsert retry budget before NeedRetry.
func WithUpsertMaxRetry(retries int) OptionFunc {
	return func(o *Options) {
		if retries > 0 {
			o.UpsertMaxRetry = retries
		}
	}
}
