// Package stripe translates logical block addresses into per-volume offsets
// for a RAID0 layout.
//
// The logical space is cut into stripe units of S bytes dealt round-robin
// over M volumes: unit u lives on volume u mod M, in row u / M. Requests are
// planned in 4096-byte granules; S is always a multiple of the granule, so a
// granule never straddles two units.
package stripe

import (
	"errors"
	"fmt"
)

// GranuleSize is the planning unit and the position unit.
const GranuleSize = 4096

// ErrInvalidLayout is returned for unusable stripe geometry.
var ErrInvalidLayout = errors.New("stripe: invalid layout")

// Layout is an immutable RAID0 geometry.
type Layout struct {
	stripe  int64
	devices int
}

// Extent is a contiguous byte range on one volume and the matching window
// of the request buffer.
type Extent struct {
	Device int   // volume index
	Offset int64 // byte offset on the volume
	Window int   // byte offset into the request buffer
	Length int   // bytes
}

// New returns the layout for stripeSize bytes over devices volumes.
func New(stripeSize int64, devices int) (Layout, error) {
	if stripeSize <= 0 || stripeSize%GranuleSize != 0 {
		return Layout{}, fmt.Errorf("%w: stripe size %d is not a positive multiple of %d", ErrInvalidLayout, stripeSize, GranuleSize)
	}
	if devices <= 0 {
		return Layout{}, fmt.Errorf("%w: %d devices", ErrInvalidLayout, devices)
	}
	return Layout{stripe: stripeSize, devices: devices}, nil
}

// StripeSize returns the stripe unit in bytes.
func (l Layout) StripeSize() int64 { return l.stripe }

// Devices returns the number of volumes.
func (l Layout) Devices() int { return l.devices }

// Start returns, for each volume, the byte offset of the first byte a
// request at logical position pos (in GranuleSize units) touches or would
// touch next on that volume.
//
// Volumes before the starting unit's volume have already been dealt one
// more unit in the current row, so they begin at the next row.
func (l Layout) Start(pos uint32) []int64 {
	p := int64(pos) * GranuleSize
	unit := p / l.stripe
	m := int64(l.devices)
	first := int(unit % m)

	offsets := make([]int64, l.devices)
	for i := range offsets {
		row := unit / m
		if first > i {
			row++
		}
		offsets[i] = row * l.stripe
		if i == first {
			offsets[i] += p - unit*l.stripe
		}
	}
	return offsets
}

// Plan splits a request of length bytes at pos into one extent per granule,
// in logical order. length must be a multiple of GranuleSize.
func (l Layout) Plan(pos uint32, length uint32) []Extent {
	n := int(length / GranuleSize)
	if n == 0 {
		return nil
	}

	p := int64(pos) * GranuleSize
	offsets := l.Start(pos)
	plan := make([]Extent, n)
	for g := 0; g < n; g++ {
		dev := int(((p + int64(g)*GranuleSize) / l.stripe) % int64(l.devices))
		plan[g] = Extent{
			Device: dev,
			Offset: offsets[dev],
			Window: g * GranuleSize,
			Length: GranuleSize,
		}
		offsets[dev] += GranuleSize
	}
	return plan
}

// Runs is Plan with consecutive granules that are contiguous both on the
// volume and in the request buffer merged into one extent.
func (l Layout) Runs(pos uint32, length uint32) []Extent {
	plan := l.Plan(pos, length)
	if len(plan) == 0 {
		return nil
	}

	runs := plan[:1]
	for _, e := range plan[1:] {
		last := &runs[len(runs)-1]
		if e.Device == last.Device &&
			e.Offset == last.Offset+int64(last.Length) &&
			e.Window == last.Window+last.Length {
			last.Length += e.Length
			continue
		}
		runs = append(runs, e)
	}
	return runs
}

// Locate returns the volume and volume offset of logical position pos.
func (l Layout) Locate(pos uint32) (int, int64) {
	p := int64(pos) * GranuleSize
	unit := p / l.stripe
	m := int64(l.devices)
	return int(unit % m), (unit/m)*l.stripe + p%l.stripe
}

// VolumeSize returns the bytes each volume must hold for a logical
// capacity of capacity bytes.
func (l Layout) VolumeSize(capacity int64) int64 {
	units := (capacity + l.stripe - 1) / l.stripe
	rows := (units + int64(l.devices) - 1) / int64(l.devices)
	return rows * l.stripe
}

func (l Layout) String() string {
	return fmt.Sprintf("raid0(stripe=%d, volumes=%d)", l.stripe, l.devices)
}
