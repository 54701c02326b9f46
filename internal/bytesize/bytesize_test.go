package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"plain zero", "0", 0, false},
		{"plain granule", "4096", 4096, false},
		{"bytes suffix", "4096B", 4096, false},
		{"stripe Ki", "128Ki", 128 * 1024, false},
		{"stripe KiB", "128KiB", 128 * 1024, false},
		{"transfer Mi", "2Mi", 2 * 1024 * 1024, false},
		{"capacity Gi", "10Gi", 10 * 1024 * 1024 * 1024, false},
		{"capacity Ti", "1Ti", 1024 * 1024 * 1024 * 1024, false},
		{"decimal KB", "4KB", 4000, false},
		{"decimal GB", "1GB", 1000 * 1000 * 1000, false},
		{"lowercase", "64ki", 64 * 1024, false},
		{"whitespace", "  1 Mi ", 1024 * 1024, false},
		{"float", "1.5Mi", ByteSize(1.5 * 1024 * 1024), false},

		{"empty", "", 0, true},
		{"spaces only", "   ", 0, true},
		{"unknown unit", "10XB", 0, true},
		{"negative", "-1Mi", 0, true},
		{"garbage", "lots", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarshalTextRoundTrip(t *testing.T) {
	for _, size := range []ByteSize{0, 1, 4096, 128 * KiB, 2 * MiB, 3 * GiB, 5 * TiB, 4097} {
		text, err := size.MarshalText()
		require.NoError(t, err)

		var parsed ByteSize
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, size, parsed, "text %q", text)
	}

	text, _ := (128 * KiB).MarshalText()
	assert.Equal(t, "128Ki", string(text))
}

func TestAlignDown(t *testing.T) {
	assert.Equal(t, ByteSize(0), ByteSize(4095).AlignDown(4096))
	assert.Equal(t, ByteSize(4096), ByteSize(4096).AlignDown(4096))
	assert.Equal(t, ByteSize(8192), ByteSize(12287).AlignDown(4096))
	assert.True(t, ByteSize(8192).IsAligned(4096))
	assert.False(t, ByteSize(8193).IsAligned(4096))
	assert.False(t, ByteSize(8192).IsAligned(0))
}

func TestString(t *testing.T) {
	assert.Equal(t, "512B", ByteSize(512).String())
	assert.Equal(t, "128.00KiB", (128 * KiB).String())
	assert.Equal(t, "2.00MiB", (2 * MiB).String())
}
