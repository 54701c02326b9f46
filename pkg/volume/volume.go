// Package volume provides the backing volumes a striped device is laid
// over. Every volume is addressed by byte offset; the worker only ever
// issues granule-aligned I/O.
package volume

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittoblk/internal/bytesize"
)

// GranuleSize is the I/O unit of granule-addressed volumes.
const GranuleSize = 4096

// Volume types.
const (
	TypeFile   = "file"
	TypeMemory = "memory"
	TypeBadger = "badger"
	TypeS3     = "s3"
)

var (
	// ErrMisaligned is returned when a granule-addressed volume receives an
	// offset or length that is not a multiple of GranuleSize.
	ErrMisaligned = errors.New("volume: misaligned I/O")

	// ErrOutOfRange is returned for I/O past a fixed-size volume's end.
	ErrOutOfRange = errors.New("volume: I/O out of range")

	// ErrClosed is returned for I/O on a closed volume.
	ErrClosed = errors.New("volume: closed")

	// ErrUnknownType is returned by Open for an unrecognized Spec.Type.
	ErrUnknownType = errors.New("volume: unknown type")
)

// Volume is one RAID0 member.
type Volume interface {
	// ReadAt fills p from offset off. Never-written ranges read as zeros.
	ReadAt(ctx context.Context, p []byte, off int64) error

	// WriteAt writes p at offset off.
	WriteAt(ctx context.Context, p []byte, off int64) error

	// Sync makes completed writes durable.
	Sync(ctx context.Context) error

	Close() error

	// String identifies the volume in logs.
	String() string
}

// Spec describes one volume.
type Spec struct {
	// Type is one of file, memory, badger, s3.
	Type string `mapstructure:"type" yaml:"type" json:"type" validate:"required,oneof=file memory badger s3"`

	// Path is the file path (file) or database directory (badger).
	Path string `mapstructure:"path" yaml:"path,omitempty" json:"path,omitempty" validate:"required_if=Type file,required_if=Type badger"`

	// Size bounds the volume. For file volumes a shorter file is extended
	// to Size on open. Zero means unbounded.
	Size bytesize.ByteSize `mapstructure:"size" yaml:"size,omitempty" json:"size,omitempty"`

	// DirectIO opens file volumes with O_DIRECT where supported.
	DirectIO bool `mapstructure:"direct_io" yaml:"direct_io,omitempty" json:"direct_io,omitempty"`

	// S3 configures s3 volumes.
	S3 S3Spec `mapstructure:"s3" yaml:"s3,omitempty" json:"s3,omitempty"`
}

// S3Spec configures an s3 volume.
type S3Spec struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Region          string `mapstructure:"region" yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	KeyPrefix       string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty" json:"key_prefix,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty" json:"force_path_style,omitempty"`
}

// Open opens the volume described by spec.
func Open(ctx context.Context, spec Spec) (Volume, error) {
	switch spec.Type {
	case TypeFile:
		return OpenFile(spec.Path, spec.Size.Int64(), spec.DirectIO)
	case TypeMemory:
		return NewMemory(spec.Size.Int64()), nil
	case TypeBadger:
		return OpenBadger(spec.Path, spec.Size.Int64())
	case TypeS3:
		return OpenS3(ctx, spec.S3, spec.Size.Int64())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, spec.Type)
	}
}

// OpenAll opens every spec in order. On failure the volumes opened so far
// are closed.
func OpenAll(ctx context.Context, specs []Spec) ([]Volume, error) {
	vols := make([]Volume, 0, len(specs))
	for i, spec := range specs {
		v, err := Open(ctx, spec)
		if err != nil {
			_ = CloseAll(vols)
			return nil, fmt.Errorf("volume %d: %w", i, err)
		}
		vols = append(vols, v)
	}
	return vols, nil
}

// CloseAll closes every volume and joins the errors.
func CloseAll(vols []Volume) error {
	var errs []error
	for _, v := range vols {
		if err := v.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v, err))
		}
	}
	return errors.Join(errs...)
}

// checkGranule validates a granule-addressed request and returns the first
// granule index and the granule count.
func checkGranule(p []byte, off, size int64) (int64, int, error) {
	if off < 0 || off%GranuleSize != 0 || len(p)%GranuleSize != 0 {
		return 0, 0, fmt.Errorf("%w: offset %d length %d", ErrMisaligned, off, len(p))
	}
	if size > 0 && off+int64(len(p)) > size {
		return 0, 0, fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfRange, off, off+int64(len(p)), size)
	}
	return off / GranuleSize, len(p) / GranuleSize, nil
}

// Healthchecker is implemented by volumes whose backend can become
// unreachable independently of the process.
type Healthchecker interface {
	Healthcheck(ctx context.Context) error
}

// Check runs v's health check if it has one.
func Check(ctx context.Context, v Volume) error {
	if hc, ok := v.(Healthchecker); ok {
		return hc.Healthcheck(ctx)
	}
	return nil
}
