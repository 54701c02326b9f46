package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dittoblk/pkg/blockdev"
	"github.com/marmos91/dittoblk/pkg/volume"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags first, then the geometry rules that tags
// cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}

	if err := getValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	return validateGeometry(cfg)
}

// formatValidationErrors renders each failed field as
// "<namespace>: failed '<tag>' (param=<p>)".
func formatValidationErrors(verrs validator.ValidationErrors) error {
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			errs = append(errs, fmt.Errorf("%s: failed '%s' (param=%s)", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			errs = append(errs, fmt.Errorf("%s: failed '%s'", fe.Namespace(), fe.Tag()))
		}
	}
	return errors.Join(errs...)
}

func validateGeometry(cfg *Config) error {
	const granule = volume.GranuleSize

	if cfg.Worker.StripeSize == 0 || cfg.Worker.StripeSize%granule != 0 {
		return fmt.Errorf("worker.stripe_size %s must be a positive multiple of %d", cfg.Worker.StripeSize, granule)
	}
	if cfg.Device.MaxTransfer < granule || cfg.Device.MaxTransfer%granule != 0 {
		return fmt.Errorf("device.max_transfer %s must be a positive multiple of %d", cfg.Device.MaxTransfer, granule)
	}
	if cfg.Device.Capacity.Int64() > blockdev.MaxCapacity {
		return fmt.Errorf("device.capacity %s exceeds the addressable maximum", cfg.Device.Capacity)
	}
	if cfg.Device.Capacity != 0 && cfg.Device.Capacity < granule {
		return fmt.Errorf("device.capacity %s is smaller than one sector", cfg.Device.Capacity)
	}

	for i, spec := range cfg.Worker.Volumes {
		if spec.Type == volume.TypeS3 && spec.S3.Bucket == "" {
			return fmt.Errorf("worker.volumes[%d]: s3 volume requires a bucket", i)
		}
		if spec.Size != 0 && spec.Size%granule != 0 {
			return fmt.Errorf("worker.volumes[%d].size %s must be a multiple of %d", i, spec.Size, granule)
		}
	}
	return nil
}
