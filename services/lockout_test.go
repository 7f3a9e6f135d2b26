package services

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/warden/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockoutCheck_NoLock(t *testing.T) {
	guard := NewLockoutGuard(&MockMemberRepository{}, newTestLogger())
	member := NewTestMember(1, "a@example.com")

	assert.NoError(t, guard.Check(context.Background(), member))
}

func TestLockoutCheck_ActiveLock(t *testing.T) {
	guard := NewLockoutGuard(&MockMemberRepository{}, newTestLogger())
	member := NewTestMemberLocked(1, "a@example.com", 10*time.Minute)

	err := guard.Check(context.Background(), member)
	require.Error(t, err)

	var locked *models.LockedOutError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, *member.LockedUntil, locked.Until)
	assert.Equal(t, 10, locked.RemainingMinutes(locked.Until.Add(-10*time.Minute)))
	assert.Equal(t, 0, locked.RemainingMinutes(locked.Until.Add(time.Second)))
}

func TestLockoutCheck_ExpiredLockClearsLazily(t *testing.T) {
	var gotAttempts *int
	var gotLockedUntil *time.Time
	cleared := false
	repo := &MockMemberRepository{
		UpdateLockoutFunc: func(ctx context.Context, id int64, attempts int, lockedUntil *time.Time) error {
			gotAttempts = &attempts
			gotLockedUntil = lockedUntil
			cleared = true
			return nil
		},
	}
	guard := NewLockoutGuard(repo, newTestLogger())
	member := NewTestMemberLocked(1, "a@example.com", -1*time.Minute)

	err := guard.Check(context.Background(), member)
	require.NoError(t, err)

	assert.True(t, cleared)
	require.NotNil(t, gotAttempts)
	assert.Equal(t, 0, *gotAttempts)
	assert.Nil(t, gotLockedUntil)
	assert.Equal(t, 0, member.FailedLoginAttempts)
	assert.Nil(t, member.LockedUntil)
}

func TestRecordFailure_LocksAtThreshold(t *testing.T) {
	members := newMemoryMemberRepository()
	member := members.add(NewTestMember(0, "a@example.com"))
	guard := NewLockoutGuard(members, newTestLogger())
	ctx := context.Background()

	for i := 1; i < LockoutThreshold; i++ {
		locked, err := guard.RecordFailure(ctx, member)
		require.NoError(t, err)
		assert.False(t, locked, "attempt %d should not lock", i)
		assert.Equal(t, i, member.FailedLoginAttempts)
	}

	locked, err := guard.RecordFailure(ctx, member)
	require.NoError(t, err)
	assert.True(t, locked)
	require.NotNil(t, member.LockedUntil)
	assert.WithinDuration(t, time.Now().Add(LockoutDuration), *member.LockedUntil, 5*time.Second)

	stored := members.get(member.ID)
	assert.Equal(t, LockoutThreshold, stored.FailedLoginAttempts)
	assert.NotNil(t, stored.LockedUntil)
}

func TestRecordSuccess_ClearsState(t *testing.T) {
	members := newMemoryMemberRepository()
	member := members.add(NewTestMemberLocked(0, "a@example.com", 5*time.Minute))
	guard := NewLockoutGuard(members, newTestLogger())

	require.NoError(t, guard.RecordSuccess(context.Background(), member))

	assert.Equal(t, 0, member.FailedLoginAttempts)
	assert.Nil(t, member.LockedUntil)

	stored := members.get(member.ID)
	assert.Equal(t, 0, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LockedUntil)
}

func TestRecordSuccess_NoopWhenClean(t *testing.T) {
	called := false
	repo := &MockMemberRepository{
		UpdateLockoutFunc: func(ctx context.Context, id int64, attempts int, lockedUntil *time.Time) error {
			called = true
			return nil
		},
	}
	guard := NewLockoutGuard(repo, newTestLogger())

	require.NoError(t, guard.RecordSuccess(context.Background(), NewTestMember(1, "a@example.com")))
	assert.False(t, called)
}
