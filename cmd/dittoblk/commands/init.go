package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittoblk/internal/bytesize"
	"github.com/marmos91/dittoblk/internal/cli/prompt"
	"github.com/marmos91/dittoblk/pkg/blockdev"
	"github.com/marmos91/dittoblk/pkg/config"
	"github.com/marmos91/dittoblk/pkg/queue"
	"github.com/marmos91/dittoblk/pkg/volume"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample dittoblk configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/dittoblk/config.yaml.
Use --config to specify a custom path, and --interactive to answer a few
questions about the device and its volumes instead of taking the sample.

Examples:
  # Initialize with default location
  dittoblk init

  # Initialize with custom path
  dittoblk init --config /etc/dittoblk/config.yaml

  # Choose capacity, stripe size and volumes interactively
  dittoblk init --interactive

  # Force overwrite existing config
  dittoblk init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for device and volume settings")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	switch {
	case initInteractive:
		configPath = configFile
		if configPath == "" {
			configPath = config.GetDefaultConfigPath()
		}
		err = initInteractiveConfig(configPath)
	case configFile != "":
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	default:
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		if prompt.IsAborted(err) {
			fmt.Println("Aborted.")
			return nil
		}
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the device with: dittoblk start")
	fmt.Printf("  3. Or specify custom config: dittoblk start --config %s\n", configPath)
	return nil
}

func initInteractiveConfig(path string) error {
	if _, err := os.Stat(path); err == nil && !initForce {
		overwrite, err := prompt.Confirm(fmt.Sprintf("%s exists. Overwrite", path), false)
		if err != nil {
			return err
		}
		if !overwrite {
			return prompt.ErrAborted
		}
	}

	cfg := config.SampleConfig()

	var err error
	if cfg.Device.Name, err = prompt.Input("Device name", cfg.Device.Name, prompt.NotEmpty); err != nil {
		return err
	}
	if cfg.Device.Capacity, err = prompt.InputSize("Capacity", cfg.Device.Capacity, blockdev.SectorSize); err != nil {
		return err
	}
	if cfg.Device.QueueDepth, err = prompt.InputInt("Queue depth", queue.DefaultDepth, 1, 65536); err != nil {
		return err
	}
	if cfg.Worker.StripeSize, err = prompt.InputSize("Stripe size", cfg.Worker.StripeSize, blockdev.SectorSize); err != nil {
		return err
	}
	if cfg.Transport.Mode, err = prompt.Select("Transport", []string{config.TransportInProcess, config.TransportSocket}); err != nil {
		return err
	}

	typ, err := prompt.Select("Volume type", []string{volume.TypeFile, volume.TypeBadger, volume.TypeMemory, volume.TypeS3})
	if err != nil {
		return err
	}
	count, err := prompt.InputInt("Number of volumes", 2, 1, 64)
	if err != nil {
		return err
	}

	layoutSize := perVolumeSize(cfg.Device.Capacity, cfg.Worker.StripeSize, count)
	cfg.Worker.Volumes = make([]volume.Spec, count)
	for i := range cfg.Worker.Volumes {
		spec := volume.Spec{Type: typ, Size: layoutSize}
		switch typ {
		case volume.TypeFile:
			spec.Path = filepath.Join(config.DataDir(), "volume"+strconv.Itoa(i)+".img")
		case volume.TypeBadger:
			spec.Path = filepath.Join(config.DataDir(), "volume"+strconv.Itoa(i))
		case volume.TypeS3:
			if i == 0 {
				if spec.S3.Bucket, err = prompt.Input("S3 bucket", "", prompt.NotEmpty); err != nil {
					return err
				}
				if spec.S3.Endpoint, err = prompt.Input("S3 endpoint (empty for AWS)", "", nil); err != nil {
					return err
				}
			} else {
				spec.S3 = cfg.Worker.Volumes[0].S3
			}
			spec.S3.KeyPrefix = "volume" + strconv.Itoa(i) + "/"
		}
		cfg.Worker.Volumes[i] = spec
	}

	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}
	return config.WriteSampleConfig(cfg, path)
}

// perVolumeSize is the per-volume size a capacity needs over count volumes,
// rounded up to whole stripes.
func perVolumeSize(capacity, stripeSize bytesize.ByteSize, count int) bytesize.ByteSize {
	if capacity == 0 || stripeSize == 0 {
		return 0
	}
	units := (capacity + stripeSize - 1) / stripeSize
	rows := (units + bytesize.ByteSize(count) - 1) / bytesize.ByteSize(count)
	return rows * stripeSize
}
