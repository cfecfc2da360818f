// SPDX-License-Identifier: MPL-2.0

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeden-cli/internal/testutil"
)

var epoch = time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) (*Store, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(epoch)
	s, err := Open(t.Context(), MemoryPath, WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { testutil.MustClose(t, s) })
	return s, clock
}

func TestOpenCreatesFile(t *testing.T) {
	t.Parallel()

	path := DefaultPath(filepath.Join(t.TempDir(), "state"))
	s, err := Open(t.Context(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.FileExists(t, path)

	// Reopening keeps the schema and data.
	s, err = Open(t.Context(), path)
	require.NoError(t, err)
	defer testutil.MustClose(t, s)
	builds, err := s.ListBuilds(t.Context(), 0)
	require.NoError(t, err)
	assert.Empty(t, builds)
}

func TestRecordAndLatestBuild(t *testing.T) {
	t.Parallel()
	s, clock := openTestStore(t)
	ctx := t.Context()

	first, err := s.RecordBuild(ctx, BuildRecord{
		Name:      "python",
		Digest:    "sha256:aaa",
		Tag:       "codeden/python:aaa",
		BaseImage: "codercom/code-server:latest",
		Engine:    "docker",
		Packages:  []string{"python3=3.11.2-1", "python3-pip=23.0.1"},
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, first.ID)
	assert.Equal(t, byte(7), byte(first.ID.Version()))
	assert.Equal(t, epoch, first.CreatedAt)

	clock.Advance(time.Minute)
	second, err := s.RecordBuild(ctx, BuildRecord{
		Name:     "python",
		Digest:   "sha256:aaa",
		Tag:      "codeden/python:aaa",
		Packages: []string{"python3=3.11.2-2", "python3-pip=23.0.1"},
		Duration: 1500 * time.Millisecond,
	})
	require.NoError(t, err)

	// A cache hit without a snapshot does not shadow the last real build.
	clock.Advance(time.Minute)
	_, err = s.RecordBuild(ctx, BuildRecord{Name: "python", Digest: "sha256:aaa", Tag: "codeden/python:aaa", CacheHit: true})
	require.NoError(t, err)

	latest, err := s.LatestBuild(ctx, "sha256:aaa")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, []string{"python3=3.11.2-2", "python3-pip=23.0.1"}, latest.Packages)
	assert.Equal(t, 1500*time.Millisecond, latest.Duration)
	assert.Equal(t, epoch.Add(time.Minute), latest.CreatedAt)
}

func TestLatestBuildNotFound(t *testing.T) {
	t.Parallel()
	s, _ := openTestStore(t)

	_, err := s.LatestBuild(t.Context(), "sha256:missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListBuildsNewestFirst(t *testing.T) {
	t.Parallel()
	s, clock := openTestStore(t)
	ctx := t.Context()

	for _, name := range []string{"go", "rust", "java"} {
		_, err := s.RecordBuild(ctx, BuildRecord{Name: name, Digest: "sha256:" + name, Tag: "codeden/" + name})
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	all, err := s.ListBuilds(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "java", all[0].Name)
	assert.Equal(t, "go", all[2].Name)

	limited, err := s.ListBuilds(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	s, clock := openTestStore(t)
	ctx := t.Context()

	rec, err := s.StartSession(ctx, SessionRecord{
		Backend: "editor",
		Image:   "codeden/python:aaa",
		Address: "0.0.0.0:8080",
		WorkDir: "/home/dev/project",
	})
	require.NoError(t, err)
	assert.NotEqual(t, ulid.ULID{}, rec.ID)
	assert.True(t, rec.Running())

	sessions, err := s.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Running())
	assert.Nil(t, sessions[0].ExitCode)

	clock.Advance(5 * time.Minute)
	require.NoError(t, s.FinishSession(ctx, rec.ID, 0, ""))

	sessions, err = s.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	got := sessions[0]
	assert.False(t, got.Running())
	assert.Equal(t, epoch.Add(5*time.Minute), got.StoppedAt)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
	assert.Equal(t, "0.0.0.0:8080", got.Address)
}

func TestFinishUnknownSession(t *testing.T) {
	t.Parallel()
	s, _ := openTestStore(t)

	err := s.FinishSession(t.Context(), ulid.Make(), 1, "boom")
	require.ErrorIs(t, err, ErrNotFound)
}
