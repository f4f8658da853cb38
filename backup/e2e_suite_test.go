package backup_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestBackupE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Backup E2E Suite")
}
