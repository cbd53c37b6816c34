package repo

import (
	"context"
	"testing"
	"time"

	"github.com/richardliu001/deferred-wallet/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStore_SaveReplacesByID(t *testing.T) {
	r := newTestRepo(t)
	s := NewJobStore(r.DB(context.Background()))
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, s.Save(ctx, scheduler.Job{ID: "7", Kind: "k", Token: "a", RunAt: at}))
	require.NoError(t, s.Save(ctx, scheduler.Job{ID: "7", Kind: "k", Token: "b", RunAt: at.Add(time.Minute)}))
	require.NoError(t, s.Save(ctx, scheduler.Job{ID: "8", Kind: "k", Token: "c", RunAt: at.Add(-time.Minute)}))

	jobs, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "8", jobs[0].ID)
	assert.Equal(t, "7", jobs[1].ID)
	assert.Equal(t, "b", jobs[1].Token)
	assert.True(t, jobs[1].RunAt.Equal(at.Add(time.Minute)))
}

func TestJobStore_ClaimByToken(t *testing.T) {
	r := newTestRepo(t)
	s := NewJobStore(r.DB(context.Background()))
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, scheduler.Job{ID: "1", Kind: "k", Token: "old", RunAt: time.Now()}))
	require.NoError(t, s.Save(ctx, scheduler.Job{ID: "1", Kind: "k", Token: "new", RunAt: time.Now()}))

	ok, err := s.Claim(ctx, "1", "old")
	require.NoError(t, err)
	assert.False(t, ok, "stale registration must not be claimable")

	ok, err = s.Claim(ctx, "1", "new")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Claim(ctx, "1", "new")
	require.NoError(t, err)
	assert.False(t, ok, "a job is claimed once")

	jobs, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
