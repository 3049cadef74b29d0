package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

type countingRevocations struct {
	session.RevocationStore
	purges atomic.Int32
}

func (c *countingRevocations) PurgeExpired(ctx context.Context) (int64, error) {
	c.purges.Add(1)
	return 0, nil
}

func TestStartJobs(t *testing.T) {
	logger := observability.NopLogger()

	t.Run("memory store schedules nothing", func(t *testing.T) {
		c, err := startJobs(context.Background(), session.NewMemoryRevocationStore(10, time.Hour), logger)
		require.NoError(t, err)
		defer c.Stop()
		assert.Empty(t, c.Entries())
	})

	t.Run("purging store is scheduled", func(t *testing.T) {
		c, err := startJobs(context.Background(), &countingRevocations{}, logger)
		require.NoError(t, err)
		defer c.Stop()
		assert.Len(t, c.Entries(), 1)
	})

	t.Run("bad schedule", func(t *testing.T) {
		t.Setenv("GATEHOUSE_REVOCATION_PURGE_SCHEDULE", "not a schedule")
		_, err := startJobs(context.Background(), &countingRevocations{}, logger)
		assert.Error(t, err)
	})
}

func TestAdminCommands_ValidateFlags(t *testing.T) {
	ctx := context.Background()

	err := keygen(ctx, []string{"-module", "auth"})
	assert.EqualError(t, err, "-org is required")

	err = keygen(ctx, []string{"-org", "acme", "-module", "billing"})
	assert.Error(t, err)

	err = keygen(ctx, []string{"-org", "acme", "-postgres-url", ""})
	assert.ErrorContains(t, err, "postgres URL is required")

	err = seedRoles(ctx, nil)
	assert.EqualError(t, err, "-org is required")
}
