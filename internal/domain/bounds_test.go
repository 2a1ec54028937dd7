package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuessBounds(t *testing.T) {
	t.Run("ascending", func(t *testing.T) {
		a := uniformAxis(0, 1, 3)
		require.NoError(t, a.GuessBounds())
		assert.Equal(t, [][2]float64{{-0.5, 0.5}, {0.5, 1.5}, {1.5, 2.5}}, a.Bounds)
	})

	t.Run("descending", func(t *testing.T) {
		a := uniformAxis(2, -1, 3)
		require.NoError(t, a.GuessBounds())
		assert.Equal(t, [2]float64{2.5, 1.5}, a.Bounds[0])
		lo, hi := a.CellEdges(0)
		assert.Equal(t, 1.5, lo)
		assert.Equal(t, 2.5, hi)
	})

	t.Run("irregular", func(t *testing.T) {
		a := Axis{Points: []float64{0, 1, 3}}
		assert.ErrorIs(t, a.GuessBounds(), ErrIrregularSpacing)
		assert.Nil(t, a.Bounds)
	})

	t.Run("single point", func(t *testing.T) {
		a := Axis{Points: []float64{4}}
		assert.ErrorIs(t, a.GuessBounds(), ErrIrregularSpacing)
	})
}

func TestEnsureBounds(t *testing.T) {
	f := constantDaily(date(2001, time.January, 1), 1, 3, 4, 1)

	out, err := EnsureBounds(f)
	require.NoError(t, err)
	assert.True(t, out.Lat.HasBounds())
	assert.True(t, out.Lon.HasBounds())
	assert.False(t, f.Lat.HasBounds(), "input must not be modified")

	same, err := EnsureBounds(out)
	require.NoError(t, err)
	assert.Same(t, out, same)

	f.Lon = Axis{Points: []float64{0, 1, 2, 5}}
	_, err = EnsureBounds(f)
	assert.ErrorIs(t, err, ErrIrregularSpacing)
}
