package backup_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bkio/crosscloudkit/backup"
	"github.com/bkio/crosscloudkit/dbcore"
	"github.com/bkio/crosscloudkit/dbcore/memdb"
	"github.com/bkio/crosscloudkit/filestore/diskstore"
	"github.com/bkio/crosscloudkit/memory/buntmem"
	"github.com/bkio/crosscloudkit/primitive"
	"github.com/bkio/crosscloudkit/pubsub/localbus"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// parseArtifactTimestamp recovers the time.Time a Cursor's filename
// encodes (spec §3: `yyyy-MM-dd-HH-mm-ss.json`, UTC).
func parseArtifactTimestamp(fileName string) (time.Time, error) {
	return time.Parse("2006-01-02-15-04-05", strings.TrimSuffix(fileName, ".json"))
}

// ginkgoKey builds a DbKey for the BDD specs below without depending on
// *testing.T the way the table-driven tests' dbKey helper does.
func ginkgoKey(name, value string) primitive.DbKey {
	k, ok := primitive.NewDbKey(name, primitive.String(value))
	Expect(ok).To(BeTrue())
	return k
}

var _ = Describe("cron-driven backup", func() {
	var (
		mem        *buntmem.Store
		svc        *backup.Service
		db         *dbcore.Base
		tmpDir     string
		ctx        context.Context
		cancel     context.CancelFunc
		windowFrom time.Time
	)

	BeforeEach(func() {
		var err error
		mem, err = buntmem.New(":memory:", nil)
		Expect(err).NotTo(HaveOccurred())

		bus := localbus.New()
		backend := memdb.New()
		db = dbcore.NewBase(context.Background(), backend, mem, bus, "cron-e2e", "", nil)

		tmpDir, err = os.MkdirTemp("", "crosscloudkit-cron-e2e-*")
		Expect(err).NotTo(HaveOccurred())
		files, err := diskstore.New(tmpDir, nil)
		Expect(err).NotTo(HaveOccurred())

		svc = backup.New(db, files, bus, mem, "backups", "root/", nil)

		ctx, cancel = context.WithCancel(context.Background())
		Expect(db.PutItem(ctx, "Cron", ginkgoKey("Id", "c1"), dbcore.Item{"Id": "c1"}, dbcore.DoNotReturn, true).IsSuccessful).To(BeTrue())
		windowFrom = time.Now().UTC()
	})

	AfterEach(func() {
		cancel()
		db.Close()
		_ = mem.Close()
		_ = os.RemoveAll(tmpDir)
	})

	It("produces exactly one cursor within the expected cron window and restores cleanly", func() {
		scheduled, err := backup.NewScheduled(svc, "* * * * *", time.UTC, false)
		Expect(err).NotTo(HaveOccurred())

		done := make(chan error, 1)
		go func() { done <- scheduled.Run(ctx) }()

		Eventually(func() int {
			out := svc.GetBackupFileCursors(ctx)
			if !out.IsSuccessful {
				return 0
			}
			return len(out.Data)
		}, 90*time.Second, time.Second).Should(BeNumerically(">=", 1))

		cancel()
		Eventually(done, 5*time.Second).Should(Receive())

		bgCtx := context.Background()
		cursorsOut := svc.GetBackupFileCursors(bgCtx)
		Expect(cursorsOut.IsSuccessful).To(BeTrue())

		matching := 0
		var last backup.Cursor
		for _, c := range cursorsOut.Data {
			ts, err := parseArtifactTimestamp(c.FileName)
			Expect(err).NotTo(HaveOccurred())
			if !ts.Before(windowFrom.Add(-time.Second)) && ts.Before(windowFrom.Add(2*time.Minute)) {
				matching++
				last = c
			}
		}
		Expect(matching).To(Equal(1))

		Expect(db.DropTable(bgCtx, "Cron").IsSuccessful).To(BeTrue())
		Expect(svc.RestoreBackup(bgCtx, last, false).IsSuccessful).To(BeTrue())

		got := db.GetItem(bgCtx, "Cron", ginkgoKey("Id", "c1"), nil)
		Expect(got.IsSuccessful).To(BeTrue())
		Expect(got.Data["Id"]).To(Equal("c1"))
	})
})

var _ = Describe("migration with source cleanup", func() {
	It("empties the source database once cleanupSource is true", func() {
		srcMem, err := buntmem.New(":memory:", nil)
		Expect(err).NotTo(HaveOccurred())
		defer srcMem.Close()

		bus := localbus.New()
		suffix := fmt.Sprintf("%d", time.Now().UnixNano())
		srcDB := dbcore.NewBase(context.Background(), memdb.New(), srcMem, bus, "src-"+suffix, "", nil)
		defer srcDB.Close()
		destDB := dbcore.NewBase(context.Background(), memdb.New(), srcMem, bus, "dest-"+suffix, "", nil)
		defer destDB.Close()

		tmpDir, err := os.MkdirTemp("", "crosscloudkit-migrate-e2e-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(tmpDir)
		files, err := diskstore.New(tmpDir, nil)
		Expect(err).NotTo(HaveOccurred())

		ctx := context.Background()
		k := ginkgoKey("Id", "m1")
		Expect(srcDB.PutItem(ctx, "MigrationTest", k, dbcore.Item{"Id": "m1", "v": int64(1)}, dbcore.DoNotReturn, true).IsSuccessful).To(BeTrue())

		out := backup.Migrate(ctx, srcDB, destDB, files, bus, srcMem, "migrate-work-cleanup", true, false, nil)
		Expect(out.IsSuccessful).To(BeTrue())

		srcScan := srcDB.ScanTable(ctx, "MigrationTest")
		Expect(srcScan.IsSuccessful).To(BeTrue())
		Expect(srcScan.Data.Items).To(BeEmpty())

		destGot := destDB.GetItem(ctx, "MigrationTest", k, nil)
		Expect(destGot.IsSuccessful).To(BeTrue())
		Expect(destGot.Data["v"]).To(Equal(int64(1)))
	})
})
