// Package ignite is the embeddable entry point for the column-group
// storage engine: an append-heavy, schema-aware store built from ordered
// segments and per-segment column-group/index stores (see internal/table,
// internal/segment, internal/compaction). It is a library, not a CLI or a
// query engine — callers define a schema up front and drive rows through
// the operations below; there is no SQL layer, no adapter, and no online
// schema change (spec Non-goals).
package ignite

import (
	"context"
	"regexp"

	"github.com/iamNilotpal/ignite/internal/engine"
	"github.com/iamNilotpal/ignite/internal/schema"
	"github.com/iamNilotpal/ignite/internal/table"
	"github.com/iamNilotpal/ignite/pkg/logger"
	"github.com/iamNilotpal/ignite/pkg/options"
)

// IndexKey names an index a row operation should register or deregister
// under. Re-exported from internal/table so callers never need to import
// that package directly.
type IndexKey = table.IndexKey

// Instance is the primary entry point for interacting with an Ignite
// table. It encapsulates the engine responsible for row/index/segment
// handling and the configuration applied to this instance.
type Instance struct {
	engine *engine.Engine
	opts   *options.Options
}

// NewInstance opens a new table rooted at Options.DataDir (see
// options.WithDataDir) under the given schema; segments already on disk
// there are not loaded (see table.Open). It starts the background
// compaction sweep loop immediately. The returned Instance owns file
// handles and a goroutine until Close or SafeStopAndWaitForCompress is
// called.
func NewInstance(ctx context.Context, service string, sc *schema.Schema, opts ...options.OptionFunc) (*Instance, error) {
	log := logger.New(service)

	defaultOpts := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&defaultOpts)
	}

	eng, err := engine.New(ctx, &engine.Config{
		Schema:  sc,
		Options: &defaultOpts,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	return &Instance{engine: eng, opts: &defaultOpts}, nil
}

// insertRow appends a brand-new row and returns its global recId.
func (i *Instance) InsertRow(ctx context.Context, values map[string][]byte, indexKeys []IndexKey) (int64, error) {
	return i.engine.InsertRow(ctx, values, indexKeys)
}

// upsertRow inserts a row on a lookup miss or updates the single matching
// row in place. Concurrent upserts on the same key are serialized per key,
// and a loser of a writer race is retried up to UpsertMaxRetry times (spec
// §6 "upsertRow").
func (i *Instance) UpsertRow(
	ctx context.Context,
	indexName string,
	lookupKey []byte,
	values map[string][]byte,
	indexKeys []IndexKey,
) (int64, error) {
	return i.engine.UpsertRow(ctx, indexName, lookupKey, values, indexKeys)
}

// updateRow rewrites an existing row's values and index registrations.
func (i *Instance) UpdateRow(ctx context.Context, recID int64, values map[string][]byte, oldKeys, newKeys []IndexKey) error {
	return i.engine.UpdateRow(ctx, recID, values, oldKeys, newKeys)
}

// removeRow tombstones an existing row; its bytes are reclaimed later by a
// purge, and its recId is never reused (spec §3 invariant 3).
func (i *Instance) RemoveRow(ctx context.Context, recID int64, indexKeys []IndexKey) error {
	return i.engine.RemoveRow(ctx, recID, indexKeys)
}

// getValue reads a single column group's raw bytes for recID.
func (i *Instance) GetValue(ctx context.Context, colgroup string, recID int64) ([]byte, error) {
	return i.engine.GetValue(ctx, colgroup, recID)
}

// indexSearchExact returns every live recId registered under key in the
// named index.
func (i *Instance) IndexSearchExact(ctx context.Context, indexName string, key []byte) ([]int64, error) {
	return i.engine.IndexSearchExact(ctx, indexName, key)
}

// indexKeyExists reports whether key has at least one live row registered
// in the named index.
func (i *Instance) IndexKeyExists(ctx context.Context, indexName string, key []byte) (bool, error) {
	return i.engine.IndexKeyExists(ctx, indexName, key)
}

// indexMatchRegex returns every live recId whose key in the named index
// matches pattern. Only indexes declared with schema.Index.Regex set
// support this (spec §4.2).
func (i *Instance) IndexMatchRegex(ctx context.Context, indexName string, pattern *regexp.Regexp) ([]int64, error) {
	return i.engine.IndexMatchRegex(ctx, indexName, pattern.String())
}

// selectColumns reads recID's value for each named column, returning the
// raw bytes of the column group hosting it.
func (i *Instance) SelectColumns(ctx context.Context, recID int64, columnNames []string) (map[string][]byte, error) {
	return i.engine.SelectColumns(ctx, recID, columnNames)
}

// selectColgroups reads recID's raw bytes for each named column group
// directly.
func (i *Instance) SelectColgroups(ctx context.Context, recID int64, groupNames []string) (map[string][]byte, error) {
	return i.engine.SelectColgroups(ctx, recID, groupNames)
}

// createIndexIterForward returns an iterator over indexName in ascending
// key order starting at the first key >= from (nil for the very first
// key). Callers must call the returned iterator's Close once done with it,
// so segments it pins can be released back to compaction (spec §4.7).
func (i *Instance) CreateIndexIterForward(ctx context.Context, indexName string, from []byte) (*engine.IndexIterator, error) {
	return i.engine.CreateIndexIterForward(ctx, indexName, from)
}

// createIndexIterBackward returns an iterator over indexName in descending
// key order starting at the last key <= from (nil for the very last key).
// Callers must call the returned iterator's Close once done with it.
func (i *Instance) CreateIndexIterBackward(ctx context.Context, indexName string, from []byte) (*engine.IndexIterator, error) {
	return i.engine.CreateIndexIterBackward(ctx, indexName, from)
}

// createTableIterForward returns an iterator over every live row in
// ascending recId order, as of the moment it is created. Callers must call
// the returned iterator's Close once done with it.
func (i *Instance) CreateTableIterForward(ctx context.Context) (*engine.TableIterator, error) {
	return i.engine.CreateTableIterForward(ctx)
}

// syncFinishWriting freezes the active writable segment and converts it to
// readonly immediately, instead of waiting for the background sweep to
// notice it crossed WritableFlushSize (spec §8 scenario D).
func (i *Instance) SyncFinishWriting(ctx context.Context) error {
	return i.engine.SyncFinishWriting(ctx)
}

// safeStopAndWaitForCompress stops the background compaction loop, waits
// for any in-flight job to finish publishing, and closes every segment.
// After this returns the Instance must not be used again.
func (i *Instance) SafeStopAndWaitForCompress() error {
	return i.engine.SafeStopAndWaitForCompress()
}
