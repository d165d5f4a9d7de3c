package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wudi/heyjit/compiler/values"
)

func TestNewFixedKnown(t *testing.T) {
	k := NewFixedKnown(5)
	assert.True(t, k.IsFixed())
	assert.False(t, k.IsHostObject())
	assert.True(t, k.IsNonNeg())
	assert.EqualValues(t, 5, k.FixedValue())
	assert.EqualValues(t, 0, k.RefCount())
}

func TestNewFixedKnownNegativeIsNotNonNeg(t *testing.T) {
	k := NewFixedKnown(-3)
	assert.True(t, k.IsFixed())
	assert.False(t, k.IsNonNeg())
}

func TestNewHostObjectKnown(t *testing.T) {
	v := values.NewString("hello")
	k := NewHostObjectKnown(v)
	assert.True(t, k.IsHostObject())
	assert.False(t, k.IsFixed())
	assert.Same(t, v, k.HostValue())
	assert.EqualValues(t, 1, k.RefCount())

	k.Incref()
	assert.EqualValues(t, 2, k.RefCount())
	k.Decref()
	assert.EqualValues(t, 1, k.RefCount())
}

func TestFixedKnownIncrefDecrefAreNoops(t *testing.T) {
	k := NewFixedKnown(1)
	assert.NotPanics(t, func() {
		k.Incref()
		k.Decref()
	})
	assert.EqualValues(t, 0, k.RefCount())
}

func TestKnownEqual(t *testing.T) {
	a := NewFixedKnown(10)
	b := NewFixedKnown(10)
	c := NewFixedKnown(11)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))

	host := values.NewInt(1)
	h1 := NewHostObjectKnown(host)
	h2 := NewHostObjectKnown(host)
	assert.True(t, h1.Equal(h2))
	assert.False(t, a.Equal(h1))
}

func TestKnownEqualNilHandling(t *testing.T) {
	var a, b *Known
	assert.True(t, a.Equal(b))

	k := NewFixedKnown(0)
	assert.False(t, k.Equal(nil))
}

func TestKnownString(t *testing.T) {
	assert.Equal(t, "Fixed(7)", NewFixedKnown(7).String())
	assert.Contains(t, NewHostObjectKnown(values.NewInt(1)).String(), "HostObject")
	var nilKnown *Known
	assert.Equal(t, "<nil known>", nilKnown.String())
}
