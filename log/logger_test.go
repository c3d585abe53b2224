package log_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/songzhibin97/claimflow/log"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, log.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, log.ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, log.ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, log.ParseLevel("bogus"))
}

func TestAttrs(t *testing.T) {
	assert.Equal(t, "error", log.Error(nil).Key)
	assert.Equal(t, "", log.Error(nil).Value.String())
	assert.Equal(t, "boom", log.Error(errors.New("boom")).Value.String())
	assert.Equal(t, "step_id", log.StepID("VerifyIdentity").Key)
	assert.Equal(t, "COMPLETED", log.Status("COMPLETED").Value.String())
}
