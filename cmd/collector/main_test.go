package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vortexstudio/yt-collector/internal/domain"
)

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, exitOK, exitCodeFor(domain.RunOK))
	assert.Equal(t, exitPartial, exitCodeFor(domain.RunPartial))
	assert.Equal(t, exitCancelled, exitCodeFor(domain.RunCancelled))
	assert.Equal(t, exitUnrecoverable, exitCodeFor(domain.RunFailed))
}

func TestCronSpec(t *testing.T) {
	spec, err := cronSpec("05:00")
	assert.NoError(t, err)
	assert.Equal(t, "0 5 * * *", spec)

	spec, err = cronSpec("23:45")
	assert.NoError(t, err)
	assert.Equal(t, "45 23 * * *", spec)

	for _, bad := range []string{"5am", "24:00", "12:60", "0500"} {
		_, err := cronSpec(bad)
		assert.Error(t, err, "schedule %q", bad)
	}
}
