package detour

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecisionVariants(t *testing.T) {
	b := Bypass[int](ReasonNotManaged)
	reason, bypassed := b.Bypassed()
	assert.True(t, bypassed)
	assert.Equal(t, ReasonNotManaged, reason)

	c := Call(7)
	_, bypassed = c.Bypassed()
	assert.False(t, bypassed)
	v, errno := c.Result()
	assert.Equal(t, 7, v)
	assert.Equal(t, syscall.Errno(0), errno)

	f := Forward("reply")
	_, bypassed = f.Bypassed()
	assert.False(t, bypassed)
	s, errno := f.Result()
	assert.Equal(t, "reply", s)
	assert.Equal(t, syscall.Errno(0), errno)

	fe := ForwardErr[string](syscall.ENOENT)
	_, bypassed = fe.Bypassed()
	assert.False(t, bypassed)
	s, errno = fe.Result()
	assert.Empty(t, s)
	assert.Equal(t, syscall.ENOENT, errno)
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "not managed", ReasonNotManaged.String())
	assert.Equal(t, "reentrant", ReasonReentrant.String())
	assert.Equal(t, "disabled", ReasonDisabled.String())
	assert.Equal(t, "relative path", ReasonRelativePath.String())
	assert.Equal(t, "invalid", Reason(0).String())
}
