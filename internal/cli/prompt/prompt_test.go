package prompt

import (
	"errors"
	"testing"

	"github.com/manifoldco/promptui"
	"github.com/stretchr/testify/assert"

	"github.com/marmos91/dittoblk/internal/bytesize"
)

func TestIntRange(t *testing.T) {
	v := IntRange(1, 8)
	assert.NoError(t, v("1"))
	assert.NoError(t, v(" 8 "))
	assert.Error(t, v("0"))
	assert.Error(t, v("9"))
	assert.Error(t, v("two"))
}

func TestAlignedSize(t *testing.T) {
	v := AlignedSize(4 * bytesize.KiB)
	assert.NoError(t, v("4Ki"))
	assert.NoError(t, v("1Gi"))
	assert.NoError(t, v("8192"))
	assert.Error(t, v("0"))
	assert.Error(t, v("6000"))
	assert.Error(t, v("big"))
}

func TestNotEmpty(t *testing.T) {
	assert.NoError(t, NotEmpty("/var/lib/dittoblk/vol0.img"))
	assert.Error(t, NotEmpty("   "))
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, wrapError(nil))
	assert.ErrorIs(t, wrapError(promptui.ErrInterrupt), ErrAborted)
	assert.ErrorIs(t, wrapError(promptui.ErrAbort), ErrAborted)

	other := errors.New("tty closed")
	assert.Equal(t, other, wrapError(other))
	assert.True(t, IsAborted(ErrAborted))
	assert.False(t, IsAborted(other))
}
