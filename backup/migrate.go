package backup

import (
	"context"

	"github.com/bkio/crosscloudkit/dbcore"
	"github.com/bkio/crosscloudkit/filestore"
	"github.com/bkio/crosscloudkit/memory"
	"github.com/bkio/crosscloudkit/pubsub"
	"github.com/bkio/crosscloudkit/result"
)

// Migrate moves every table from source to dest via an intermediate
// backup artifact in workBucket (spec §4.6 "Migration"): TakeBackup
// against source, then RestoreBackup of that cursor against dest.
// cleanupSource/cleanupDest map to dropTablesAfterBackup and
// fullCleanUpBeforeRestoration respectively.
func Migrate(ctx context.Context, source, dest dbcore.Database, fileService filestore.FileService, ps pubsub.PubSubService, mem memory.MemoryService, workBucket string, cleanupSource, cleanupDest bool, errorCB func(error)) result.Outcome[result.None] {
	sourceBackup := New(source, fileService, ps, mem, workBucket, "", errorCB)
	cursorOut := sourceBackup.TakeBackup(ctx, cleanupSource)
	if !cursorOut.IsSuccessful {
		return result.Fail[result.None](cursorOut.Kind, "%s", cursorOut.ErrorMessage)
	}
	if cursorOut.Data == nil {
		return result.Fail[result.None](result.KindNotFound, "No data found to migrate")
	}

	destBackup := New(dest, fileService, ps, mem, workBucket, "", errorCB)
	return destBackup.RestoreBackup(ctx, *cursorOut.Data, cleanupDest)
}
