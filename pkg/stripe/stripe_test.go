package stripe

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// locateRef is the direct RAID0 mapping of a logical byte offset.
func locateRef(stripe int64, devices int, logical int64) (int, int64) {
	unit := logical / stripe
	return int(unit % int64(devices)), (unit/int64(devices))*stripe + logical%stripe
}

func TestNewRejectsBadGeometry(t *testing.T) {
	tests := []struct {
		stripe  int64
		devices int
	}{
		{0, 1},
		{-4096, 2},
		{1000, 2},
		{4096 + 512, 2},
		{4096, 0},
		{4096, -1},
	}
	for _, tt := range tests {
		_, err := New(tt.stripe, tt.devices)
		assert.ErrorIs(t, err, ErrInvalidLayout, "stripe=%d devices=%d", tt.stripe, tt.devices)
	}
}

func TestStart(t *testing.T) {
	l, err := New(8192, 3)
	require.NoError(t, err)

	tests := []struct {
		pos  uint32
		want []int64
	}{
		{0, []int64{0, 0, 0}},
		{1, []int64{4096, 0, 0}},
		{2, []int64{8192, 0, 0}},
		{5, []int64{8192, 8192, 4096}},
		{6, []int64{8192, 8192, 8192}},
		{7, []int64{12288, 8192, 8192}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.Start(tt.pos), "pos %d", tt.pos)
	}
}

func TestPlanMatchesReference(t *testing.T) {
	for _, stripe := range []int64{4096, 8192, 65536, 3 * 4096} {
		for _, devices := range []int{1, 2, 3, 4, 7} {
			l, err := New(stripe, devices)
			require.NoError(t, err)

			for _, pos := range []uint32{0, 1, 2, 3, 5, 17, 31, 1000} {
				for _, granules := range []uint32{1, 2, 3, 8, 33} {
					name := fmt.Sprintf("S%d/M%d/pos%d/n%d", stripe, devices, pos, granules)
					plan := l.Plan(pos, granules*GranuleSize)
					require.Len(t, plan, int(granules), name)

					for g, e := range plan {
						logical := int64(pos)*GranuleSize + int64(g)*GranuleSize
						dev, off := locateRef(stripe, devices, logical)
						assert.Equal(t, dev, e.Device, name)
						assert.Equal(t, off, e.Offset, name)
						assert.Equal(t, g*GranuleSize, e.Window, name)
						assert.Equal(t, GranuleSize, e.Length, name)
					}
				}
			}
		}
	}
}

func TestSingleDeviceIsIdentity(t *testing.T) {
	l, err := New(65536, 1)
	require.NoError(t, err)

	plan := l.Plan(10, 4*GranuleSize)
	for g, e := range plan {
		assert.Equal(t, 0, e.Device)
		assert.Equal(t, int64(10+g)*GranuleSize, e.Offset)
	}
}

func TestPlanEmpty(t *testing.T) {
	l, err := New(4096, 2)
	require.NoError(t, err)
	assert.Empty(t, l.Plan(0, 0))
	assert.Empty(t, l.Runs(0, 0))
}

func TestRuns(t *testing.T) {
	l, err := New(8192, 2)
	require.NoError(t, err)

	// pos 1 .. 6 granules: dev0@4096, dev1@0+8192, dev0@8192+8192, dev1@8192(1 granule)
	runs := l.Runs(1, 6*GranuleSize)
	assert.Equal(t, []Extent{
		{Device: 0, Offset: 4096, Window: 0, Length: 4096},
		{Device: 1, Offset: 0, Window: 4096, Length: 8192},
		{Device: 0, Offset: 8192, Window: 12288, Length: 8192},
		{Device: 1, Offset: 8192, Window: 20480, Length: 4096},
	}, runs)

	total := 0
	for _, r := range runs {
		total += r.Length
	}
	assert.Equal(t, 6*GranuleSize, total)
}

func TestLocateAgreesWithPlan(t *testing.T) {
	l, err := New(3*4096, 4)
	require.NoError(t, err)

	for pos := uint32(0); pos < 100; pos++ {
		dev, off := l.Locate(pos)
		e := l.Plan(pos, GranuleSize)[0]
		assert.Equal(t, e.Device, dev)
		assert.Equal(t, e.Offset, off)
	}
}

func TestVolumeSize(t *testing.T) {
	l, err := New(8192, 3)
	require.NoError(t, err)

	assert.Equal(t, int64(0), l.VolumeSize(0))
	assert.Equal(t, int64(8192), l.VolumeSize(1))
	assert.Equal(t, int64(8192), l.VolumeSize(3*8192))
	assert.Equal(t, int64(16384), l.VolumeSize(3*8192+1))
	assert.Equal(t, "raid0(stripe=8192, volumes=3)", l.String())
}

func TestFourVolumes128KiB(t *testing.T) {
	l, err := New(131072, 4)
	require.NoError(t, err)

	tests := []struct {
		logical int64
		dev     int
		off     int64
	}{
		{0, 0, 0},
		{131072, 1, 0},
		{3 * 131072, 3, 0},
		{4 * 131072, 0, 131072},
		{5*131072 + 8192, 1, 131072 + 8192},
	}
	for _, tt := range tests {
		dev, off := l.Locate(uint32(tt.logical / GranuleSize))
		assert.Equal(t, tt.dev, dev, "byte %d", tt.logical)
		assert.Equal(t, tt.off, off, "byte %d", tt.logical)
	}

	// Two granules either side of the first unit boundary.
	runs := l.Runs(30, 4*GranuleSize)
	assert.Equal(t, []Extent{
		{Device: 0, Offset: 122880, Window: 0, Length: 8192},
		{Device: 1, Offset: 0, Window: 8192, Length: 8192},
	}, runs)
}
