package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittoblk/internal/bytesize"
	"github.com/marmos91/dittoblk/pkg/config"
	"github.com/marmos91/dittoblk/pkg/stripe"
	"github.com/marmos91/dittoblk/pkg/volume"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the dittoblk configuration file.

Checks for syntax errors, missing required fields, invalid values and
stripe geometry that does not fit the volumes.

Examples:
  dittoblk config validate
  dittoblk config validate --config /etc/dittoblk/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if warnings := Warnings(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Device:          %s (%s)\n", cfg.Device.Name, cfg.Device.Capacity)
	_, _ = fmt.Fprintf(out, "  Queue depth:     %d\n", cfg.Device.QueueDepth)
	_, _ = fmt.Fprintf(out, "  Transport:       %s\n", cfg.Transport.Mode)
	_, _ = fmt.Fprintf(out, "  Stripe:          %s over %d volumes\n", cfg.Worker.StripeSize, len(cfg.Worker.Volumes))
	_, _ = fmt.Fprintf(out, "  API port:        %d\n", cfg.API.Port)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}

// Warnings reports settings that are valid but likely unintended.
func Warnings(cfg *config.Config) []string {
	var warnings []string

	if cfg.Device.Capacity == 0 {
		warnings = append(warnings, "device capacity is 0; set it through the API before use")
	}

	layout, err := stripe.New(cfg.Worker.StripeSize.Int64(), len(cfg.Worker.Volumes))
	if err == nil && cfg.Device.Capacity > 0 {
		need := bytesize.ByteSize(layout.VolumeSize(cfg.Device.Capacity.Int64()))
		for i, v := range cfg.Worker.Volumes {
			if v.Size > 0 && v.Size < need {
				warnings = append(warnings, fmt.Sprintf("volume %d holds %s but the capacity needs %s per volume", i, v.Size, need))
			}
		}
	}

	for i, v := range cfg.Worker.Volumes {
		if v.Type == volume.TypeMemory {
			warnings = append(warnings, fmt.Sprintf("volume %d is in memory; its contents are lost on stop", i))
		}
	}
	if cfg.Worker.DirectIO && cfg.Worker.Coalesce {
		warnings = append(warnings, "direct_io with coalesce issues large unbuffered writes; check volume alignment")
	}
	return warnings
}
