package orchestrator

import (
	"log/slog"
	"os"
	"testing"

	"github.com/mattjoyce/paratest/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup(log.Options{Level: slog.LevelError})
	os.Exit(m.Run())
}
