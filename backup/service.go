package backup

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bkio/crosscloudkit/dbcore"
	"github.com/bkio/crosscloudkit/filestore"
	"github.com/bkio/crosscloudkit/internal/metrics"
	"github.com/bkio/crosscloudkit/memory"
	"github.com/bkio/crosscloudkit/mutexcore"
	"github.com/bkio/crosscloudkit/pubsub"
	"github.com/bkio/crosscloudkit/result"
	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// freezeWait is the fixed post-`started` quiescence wait of spec §4.6
// step 2: "wait 10 seconds ... This wait is the correctness boundary —
// it is not optional." Kept as an unexported constant rather than a
// config field (see DESIGN.md's resolution of spec.md's Open Question 1).
const freezeWait = 10 * time.Second

// Service is the Backup/Restore engine of spec §4.6, bound to one
// Database, one FileService bucket/root, and the PubSub bus the fleet's
// Database clients freeze on.
type Service struct {
	database    dbcore.Database
	fileService filestore.FileService
	pubsub      pubsub.PubSubService
	mem         memory.MemoryService
	bucket      string
	rootPath    string
	errorCB     func(error)
	metrics     *metrics.Registry
	disposed    atomic.Bool
}

// SetMetrics attaches a metrics.Registry every subsequent TakeBackup/
// RestoreBackup run reports to (mirrors dbcore.Base.SetMetrics). Passing
// nil detaches metrics reporting.
func (s *Service) SetMetrics(r *metrics.Registry) {
	s.metrics = r
}

// New constructs a manual-mode Service: one bound to database/fileService/
// pubsub/mem, uploading/downloading under bucket/rootPath. A non-empty
// rootPath gets a trailing "/" appended when absent; empty means the
// bucket root. Use NewScheduled to additionally run a cron-driven loop.
func New(database dbcore.Database, fileService filestore.FileService, ps pubsub.PubSubService, mem memory.MemoryService, bucket, rootPath string, errorCB func(error)) *Service {
	if rootPath != "" && !strings.HasSuffix(rootPath, "/") {
		rootPath += "/"
	}
	return &Service{database: database, fileService: fileService, pubsub: ps, mem: mem, bucket: bucket, rootPath: rootPath, errorCB: errorCB}
}

// Dispose marks the Service unusable: every subsequent TakeBackup,
// RestoreBackup, or GetBackupFileCursors call fails with KindDisposed
// (503). Idempotent.
func (s *Service) Dispose() {
	s.disposed.Store(true)
}

func (s *Service) checkDisposed() result.Outcome[result.None] {
	if s.disposed.Load() {
		return result.Fail[result.None](result.KindDisposed, "backup service is disposed")
	}
	return result.Ok(result.None{})
}

func (s *Service) logError(err error) {
	if err == nil {
		return
	}
	if s.errorCB != nil {
		s.errorCB(err)
		return
	}
	glog.Errorf("backup: %v", err)
}

func (s *Service) acquireBackupMutex(ctx context.Context) result.Outcome[*mutexcore.Handle] {
	return mutexcore.Acquire(ctx, s.mem, dbcore.BackupMutexScope(), dbcore.BackupMutexKey, dbcore.BackupMutexTTL)
}

func (s *Service) publishBackupState(ctx context.Context, message string) {
	if out := s.pubsub.Publish(ctx, dbcore.BackupCheckTopic, message); !out.IsSuccessful {
		s.logError(fmt.Errorf("backup: publish %q failed: %s", message, out.ErrorMessage))
	}
}

// sleepQuiescence blocks for freezeWait or until ctx is cancelled,
// whichever comes first (spec §5: "Cancellation during I/O ... ").
func sleepQuiescence(ctx context.Context) error {
	timer := time.NewTimer(freezeWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TakeBackup runs the Backup algorithm of spec §4.6 steps 1-9. A nil
// Cursor with a successful Outcome means there was nothing to back up
// (step 3/8: empty table list or empty accumulated array).
func (s *Service) TakeBackup(ctx context.Context, dropTablesAfterBackup bool) (out result.Outcome[*Cursor]) {
	if d := s.checkDisposed(); !d.IsSuccessful {
		return result.Fail[*Cursor](d.Kind, "%s", d.ErrorMessage)
	}
	start := time.Now()
	defer func() {
		status := "ok"
		if !out.IsSuccessful {
			status = "error"
		}
		s.metrics.ObserveBackupRun("backup", status, time.Since(start).Seconds())
	}()

	acq := s.acquireBackupMutex(ctx)
	if !acq.IsSuccessful {
		return result.Fail[*Cursor](acq.Kind, "%s", acq.ErrorMessage)
	}
	defer acq.Data.Release(ctx)

	s.publishBackupState(ctx, "started")
	defer s.publishBackupState(ctx, "ended")

	if err := sleepQuiescence(ctx); err != nil {
		return result.Fail[*Cursor](result.KindCancelled, "backup cancelled during quiescence wait: %v", err)
	}

	namesOut := s.database.GetTableNames(ctx)
	if !namesOut.IsSuccessful {
		return result.Fail[*Cursor](namesOut.Kind, "%s", namesOut.ErrorMessage)
	}
	if len(namesOut.Data) == 0 {
		return result.Ok[*Cursor](nil)
	}

	var snapshots []tableSnapshot
	for _, table := range namesOut.Data {
		scanOut := s.database.ScanTable(ctx, table)
		if !scanOut.IsSuccessful {
			return result.Fail[*Cursor](scanOut.Kind, "scan %s: %s", table, scanOut.ErrorMessage)
		}
		if len(scanOut.Data.Items) == 0 {
			continue
		}
		keyName := firstDeclaredKeyName(scanOut.Data.KeyNames, scanOut.Data.Items)
		snapshots = append(snapshots, tableSnapshot{TableName: table, KeyName: keyName, Items: scanOut.Data.Items})
		if dropTablesAfterBackup {
			if dropOut := s.database.DropTable(ctx, table); !dropOut.IsSuccessful {
				s.logError(fmt.Errorf("backup: drop %s after snapshot failed: %s", table, dropOut.ErrorMessage))
			}
		}
	}

	if len(snapshots) == 0 {
		return result.Ok[*Cursor](nil)
	}

	payload, err := jsoniter.Marshal(snapshots)
	if err != nil {
		return result.Fail[*Cursor](result.KindBackendError, "marshal backup artifact: %v", err)
	}
	fileName := timestampFileName(time.Now())
	uploadOut := s.fileService.UploadFile(ctx, filestore.StreamSource(bytes.NewReader(payload), int64(len(payload))), s.bucket, artifactObjectKey(s.rootPath, fileName))
	if !uploadOut.IsSuccessful {
		return result.Fail[*Cursor](uploadOut.Kind, "%s", uploadOut.ErrorMessage)
	}
	return result.Ok(&Cursor{FileName: fileName})
}

// firstDeclaredKeyName picks the key attribute name actually present on
// the scanned items (spec §4.6 step 4: "the base guarantees at least
// one"). keyNames is the system table's historical set; the first one
// that appears as an attribute on the first item wins.
func firstDeclaredKeyName(keyNames []string, items []dbcore.Item) string {
	if len(items) == 0 {
		return ""
	}
	for _, name := range keyNames {
		if _, ok := items[0][name]; ok {
			return name
		}
	}
	if len(keyNames) > 0 {
		return keyNames[0]
	}
	return ""
}

// RestoreBackup runs the Restore algorithm of spec §4.6.
func (s *Service) RestoreBackup(ctx context.Context, cursor Cursor, fullCleanUpBeforeRestoration bool) (out result.Outcome[result.None]) {
	if d := s.checkDisposed(); !d.IsSuccessful {
		return d
	}
	start := time.Now()
	defer func() {
		status := "ok"
		if !out.IsSuccessful {
			status = "error"
		}
		s.metrics.ObserveBackupRun("restore", status, time.Since(start).Seconds())
	}()

	var buf bytes.Buffer
	dlOut := s.fileService.DownloadFile(ctx, s.bucket, artifactObjectKey(s.rootPath, cursor.FileName), &buf)
	if !dlOut.IsSuccessful {
		return result.Fail[result.None](dlOut.Kind, "%s", dlOut.ErrorMessage)
	}

	var snapshots []tableSnapshot
	if err := jsoniter.Unmarshal(buf.Bytes(), &snapshots); err != nil {
		return result.Fail[result.None](result.KindInvalidInput, "parse backup artifact: %v", err)
	}
	for _, snap := range snapshots {
		for i, item := range snap.Items {
			snap.Items[i] = normalizeItem(item)
		}
	}

	// Item validation runs to completion over the whole artifact before
	// the duplicate-table check: an entry that is both a duplicate and
	// carries invalid items fails as invalid (400), not as a duplicate.
	for _, snap := range snapshots {
		violations := 0
		for _, item := range snap.Items {
			if v, ok := item[snap.KeyName].(string); !ok || v == "" {
				violations++
			}
		}
		if violations > 0 {
			return result.Fail[result.None](result.KindInvalidInput, "Invalid items (%d) found in table %s", violations, snap.TableName)
		}
	}

	seen := make(map[string]tableSnapshot, len(snapshots))
	for _, snap := range snapshots {
		if _, dup := seen[snap.TableName]; dup {
			return result.Fail[result.None](result.KindConflict, "duplicate detected for table name %s", snap.TableName)
		}
		seen[snap.TableName] = snap
	}

	acq := s.acquireBackupMutex(ctx)
	if !acq.IsSuccessful {
		return result.Fail[result.None](acq.Kind, "%s", acq.ErrorMessage)
	}
	defer acq.Data.Release(ctx)

	s.publishBackupState(ctx, "started")
	defer s.publishBackupState(ctx, "ended")

	if err := sleepQuiescence(ctx); err != nil {
		return result.Fail[result.None](result.KindCancelled, "restore cancelled during quiescence wait: %v", err)
	}

	if fullCleanUpBeforeRestoration {
		namesOut := s.database.GetTableNames(ctx)
		if namesOut.IsSuccessful {
			group, gctx := errgroup.WithContext(ctx)
			for _, table := range namesOut.Data {
				table := table
				group.Go(func() error {
					if out := s.database.DropTable(gctx, table); !out.IsSuccessful {
						s.logError(fmt.Errorf("restore: cleanup drop %s failed: %s", table, out.ErrorMessage))
					}
					return nil
				})
			}
			_ = group.Wait()
		}
	}

	var restoreErrs []error
	for _, snap := range snapshots {
		snap := snap
		if out := s.database.DropTable(ctx, snap.TableName); !out.IsSuccessful {
			restoreErrs = append(restoreErrs, fmt.Errorf("drop %s: %s", snap.TableName, out.ErrorMessage))
			continue
		}
		group, gctx := errgroup.WithContext(ctx)
		for _, item := range snap.Items {
			item := item
			group.Go(func() error {
				keyVal, _ := item[snap.KeyName].(string)
				dbKey, ok := dbKeyFor(snap.KeyName, keyVal)
				if !ok {
					return fmt.Errorf("invalid key %s=%q in table %s", snap.KeyName, keyVal, snap.TableName)
				}
				out := s.database.PutItem(gctx, snap.TableName, dbKey, item, dbcore.DoNotReturn, true)
				if !out.IsSuccessful {
					return fmt.Errorf("put %s/%s: %s", snap.TableName, keyVal, out.ErrorMessage)
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			restoreErrs = append(restoreErrs, err)
		}
	}
	if len(restoreErrs) > 0 {
		return result.Fail[result.None](result.KindBackendError, "restore errors: %v", restoreErrs)
	}
	return result.Ok(result.None{})
}

// GetBackupFileCursors enumerates every backup artifact under the
// configured bucket/rootPath (spec §8 scenario 8: "GetBackupFileCursorsAsync").
// On cancellation, the returned Outcome fails with KindCancelled but Data
// still carries exactly the cursors yielded before cancellation.
func (s *Service) GetBackupFileCursors(ctx context.Context) result.Outcome[[]Cursor] {
	if d := s.checkDisposed(); !d.IsSuccessful {
		return result.Fail[[]Cursor](d.Kind, "%s", d.ErrorMessage)
	}
	var cursors []Cursor
	token := ""
	for {
		select {
		case <-ctx.Done():
			return result.Outcome[[]Cursor]{Kind: result.KindCancelled, Data: cursors, ErrorMessage: "cancelled during backup cursor enumeration"}
		default:
		}

		page := s.fileService.ListFiles(ctx, s.bucket, filestore.ListOptions{Prefix: s.rootPath, ContinuationToken: token})
		if !page.IsSuccessful {
			return result.Outcome[[]Cursor]{StatusCode: page.StatusCode, Kind: page.Kind, Data: cursors, ErrorMessage: page.ErrorMessage}
		}
		for _, fileKey := range page.Data.FileKeys {
			select {
			case <-ctx.Done():
				return result.Outcome[[]Cursor]{Kind: result.KindCancelled, Data: cursors, ErrorMessage: "cancelled during backup cursor enumeration"}
			default:
			}
			cursors = append(cursors, Cursor{FileName: strings.TrimPrefix(fileKey, s.rootPath)})
		}
		if page.Data.NextContinuationToken == nil {
			break
		}
		token = *page.Data.NextContinuationToken
	}
	return result.Ok(cursors)
}
