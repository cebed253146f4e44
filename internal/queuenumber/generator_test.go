package queuenumber

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type setChecker struct {
	taken map[string]bool
	all   bool
	err   error
	calls int
}

func (c *setChecker) QueueNumberExists(_ context.Context, n string) (bool, error) {
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	return c.all || c.taken[n], nil
}

var at = time.Date(2026, 5, 4, 9, 30, 15, 0, time.Local)

func TestGenerate_Format(t *testing.T) {
	g := NewGenerator(&setChecker{}, 0)
	n, err := g.Generate(context.Background(), "RAD", "张三", at)
	require.NoError(t, err)

	sum := md5.Sum([]byte("张三"))
	h := hex.EncodeToString(sum[:])
	assert.Equal(t, "RAD20260504093015"+h[len(h)-4:], n)
}

func TestGenerate_CollisionUsesSaltedSuffix(t *testing.T) {
	g := NewGenerator(nil, 3)
	g.salt = func() string { return "0000beef" }
	first := g.Candidate("RAD", "李四", at, 0)
	checker := &setChecker{taken: map[string]bool{first: true}}
	g.checker = checker

	n, err := g.Generate(context.Background(), "RAD", "李四", at)
	require.NoError(t, err)
	assert.NotEqual(t, first, n)
	assert.Regexp(t, regexp.MustCompile(`^RAD20260504093015[0-9a-f]{4}$`), n)
	assert.Equal(t, 2, checker.calls)
}

func TestGenerate_Exhausted(t *testing.T) {
	checker := &setChecker{all: true}
	g := NewGenerator(checker, 4)

	_, err := g.Generate(context.Background(), "RAD", "王五", at)
	assert.True(t, errors.Is(err, ErrQueueNumberExhausted))
	assert.Equal(t, 4, checker.calls)
}

func TestGenerate_CheckerError(t *testing.T) {
	g := NewGenerator(&setChecker{err: errors.New("db down")}, 0)
	_, err := g.Generate(context.Background(), "RAD", "赵六", at)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrQueueNumberExhausted))
}
