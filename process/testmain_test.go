package process

import (
	"os"
	"testing"

	"github.com/nathanvale/side-quest-git-sub001/logger"
)

func TestMain(m *testing.M) {
	// Keep test runs out of the real log file
	logger.Reset()
	logger.Init(os.DevNull)

	code := m.Run()

	logger.Reset()
	os.Exit(code)
}
