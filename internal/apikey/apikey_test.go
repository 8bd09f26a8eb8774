package apikey

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/GriffinCanCode/browserbox/internal/shared/errs"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T) (*Store, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, err := NewStore(Options{Cost: bcrypt.MinCost, Now: c.Now})
	require.NoError(t, err)
	return s, c
}

func TestGenerateAndValidate(t *testing.T) {
	s, c := newStore(t)

	key, info, err := s.Generate(time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, Prefix))
	assert.True(t, info.Active)
	assert.Equal(t, c.Now().Add(time.Hour), info.ExpiresAt)

	id, _, ok := Parse(key)
	require.True(t, ok)
	assert.Equal(t, info.ID, id)

	got, err := s.Validate(key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount)
	assert.Equal(t, c.Now(), got.LastUsed)

	c.Advance(time.Minute)
	got, err = s.Validate(key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.UsageCount)
}

func TestValidateRejections(t *testing.T) {
	s, _ := newStore(t)
	key, info, err := s.Generate(0)
	require.NoError(t, err)
	_, secret, _ := Parse(key)

	tests := []struct {
		name string
		key  string
	}{
		{name: "empty", key: ""},
		{name: "no prefix", key: strings.TrimPrefix(key, Prefix)},
		{name: "wrong secret", key: Prefix + info.ID + "_" + strings.Repeat("x", len(secret))},
		{name: "unknown id", key: Prefix + "00000000-0000-4000-8000-000000000000_" + secret},
		{name: "truncated id", key: Prefix + info.ID[:4] + "_" + secret},
		{name: "missing secret", key: Prefix + info.ID + "_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Validate(tt.key)
			assert.ErrorIs(t, err, errs.ErrAuthFailure)
		})
	}
}

func TestValidateAlwaysComparesOnce(t *testing.T) {
	s, _ := newStore(t)
	key, info, err := s.Generate(0)
	require.NoError(t, err)
	_, secret, _ := Parse(key)

	var calls int
	var hashes [][]byte
	s.compare = func(hash, pw []byte) error {
		calls++
		hashes = append(hashes, hash)
		return bcrypt.CompareHashAndPassword(hash, pw)
	}

	for _, k := range []string{
		"garbage",
		Prefix + "ffffffff-ffff-4fff-bfff-ffffffffffff_" + secret,
		Prefix + info.ID + "_wrong",
		key,
	} {
		_, _ = s.Validate(k)
	}

	assert.Equal(t, 4, calls, "one comparison per attempt whether or not the id exists")
	assert.Equal(t, s.dummy, hashes[0])
	assert.Equal(t, s.dummy, hashes[1])
	assert.NotEqual(t, s.dummy, hashes[2])
}

func TestExpiryDeactivates(t *testing.T) {
	s, c := newStore(t)
	key, info, err := s.Generate(time.Hour)
	require.NoError(t, err)

	c.Advance(time.Hour + time.Second)
	_, err = s.Validate(key)
	assert.ErrorIs(t, err, errs.ErrAuthFailure)

	got, err := s.Info(info.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Empty(t, s.ListActive())
}

func TestRevoke(t *testing.T) {
	s, _ := newStore(t)
	key, info, err := s.Generate(0)
	require.NoError(t, err)

	require.NoError(t, s.Revoke(info.ID))
	_, err = s.Validate(key)
	assert.ErrorIs(t, err, errs.ErrAuthFailure)

	assert.ErrorIs(t, s.Revoke("missing"), ErrNotFound)
}

func TestRotate(t *testing.T) {
	s, _ := newStore(t)
	oldKey, oldInfo, err := s.Generate(0)
	require.NoError(t, err)

	newKey, newInfo, err := s.Rotate(oldKey)
	require.NoError(t, err)
	assert.NotEqual(t, oldInfo.ID, newInfo.ID)

	_, err = s.Validate(oldKey)
	assert.ErrorIs(t, err, errs.ErrAuthFailure)
	_, err = s.Validate(newKey)
	assert.NoError(t, err)

	_, _, err = s.Rotate(oldKey)
	assert.ErrorIs(t, err, errs.ErrAuthFailure, "a revoked key cannot be rotated")
}

func TestListActive(t *testing.T) {
	s, c := newStore(t)
	_, first, err := s.Generate(time.Hour)
	require.NoError(t, err)
	c.Advance(time.Second)
	_, second, err := s.Generate(2 * time.Hour)
	require.NoError(t, err)
	c.Advance(time.Second)
	_, revoked, err := s.Generate(0)
	require.NoError(t, err)
	require.NoError(t, s.Revoke(revoked.ID))

	ids := func() []string {
		var out []string
		for _, k := range s.ListActive() {
			out = append(out, k.ID)
		}
		return out
	}
	assert.Equal(t, []string{first.ID, second.ID}, ids())

	c.Advance(90 * time.Minute)
	assert.Equal(t, []string{second.ID}, ids())
}

func TestInfoNotFound(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Info("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
