package filesys

import (
	"bytes"

	natomic "github.com/natefinch/atomic"
)

// WriteFileAtomic writes contents to filePath using a write-to-temp-then-
// rename sequence, so a crash or concurrent reader never observes a
// partially written file. This backs segment meta.json, the tombstone and
// purge bitmaps, and readonly index dictionaries (spec §4.7).
func WriteFileAtomic(filePath string, contents []byte) error {
	return natomic.WriteFile(filePath, bytes.NewReader(contents))
}
