package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittoblk/internal/bytesize"
	"github.com/marmos91/dittoblk/internal/cli/output"
	"github.com/marmos91/dittoblk/pkg/config"
	"github.com/marmos91/dittoblk/pkg/stripe"
)

var (
	layoutOffset string
	layoutLength string
	layoutOutput string
	layoutMerge  bool
)

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Show where a request lands on the volumes",
	Long: `Show the per-volume extents the worker would touch for a request,
using the stripe size and volume count of the configuration.

Examples:
  # One 64 KiB request at offset 1 MiB
  dittoblk layout --offset 1Mi --length 64Ki

  # Merge granules that are contiguous on a volume, as JSON
  dittoblk layout --offset 0 --length 256Ki --merge --output json`,
	RunE: runLayout,
}

func init() {
	layoutCmd.Flags().StringVar(&layoutOffset, "offset", "0", "Logical byte offset (multiple of 4096)")
	layoutCmd.Flags().StringVar(&layoutLength, "length", "4Ki", "Request length (multiple of 4096)")
	layoutCmd.Flags().StringVarP(&layoutOutput, "output", "o", "table", "Output format (table|json|yaml)")
	layoutCmd.Flags().BoolVar(&layoutMerge, "merge", false, "Merge contiguous granules into runs")
}

// Extent is one row of the layout output.
type Extent struct {
	Volume       int    `json:"volume" yaml:"volume"`
	VolumeOffset int64  `json:"volume_offset" yaml:"volume_offset"`
	Window       int    `json:"window" yaml:"window"`
	Length       int    `json:"length" yaml:"length"`
	Target       string `json:"target" yaml:"target"`
}

// ExtentList renders as a table.
type ExtentList []Extent

func (l ExtentList) Headers() []string {
	return []string{"VOLUME", "VOLUME OFFSET", "WINDOW", "LENGTH", "TARGET"}
}

func (l ExtentList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		rows = append(rows, []string{
			strconv.Itoa(e.Volume),
			strconv.FormatInt(e.VolumeOffset, 10),
			strconv.Itoa(e.Window),
			bytesize.ByteSize(e.Length).String(),
			e.Target,
		})
	}
	return rows
}

func runLayout(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(layoutOutput)
	if err != nil {
		return err
	}

	offset, err := bytesize.ParseByteSize(layoutOffset)
	if err != nil {
		return fmt.Errorf("invalid --offset: %w", err)
	}
	length, err := bytesize.ParseByteSize(layoutLength)
	if err != nil {
		return fmt.Errorf("invalid --length: %w", err)
	}

	extents, err := layoutExtents(cfg, offset, length, layoutMerge)
	if err != nil {
		return err
	}

	printer := output.NewPrinter(os.Stdout, format, true)
	if format == output.FormatTable {
		layout, _ := stripe.New(cfg.Worker.StripeSize.Int64(), len(cfg.Worker.Volumes))
		printer.Printf("%s, request [%d, %d)\n\n", layout, offset, offset+length)
	}
	return printer.Print(extents)
}

// layoutExtents plans a request of length bytes at offset over cfg's
// stripe geometry.
func layoutExtents(cfg *config.Config, offset, length bytesize.ByteSize, merge bool) (ExtentList, error) {
	if !offset.IsAligned(stripe.GranuleSize) || !length.IsAligned(stripe.GranuleSize) {
		return nil, fmt.Errorf("offset and length must be multiples of %d", stripe.GranuleSize)
	}
	if length > 1<<32-stripe.GranuleSize {
		return nil, fmt.Errorf("length %s exceeds a single request", length)
	}
	pos := offset / stripe.GranuleSize
	if pos > 1<<32-1 {
		return nil, fmt.Errorf("offset %s is beyond the addressable range", offset)
	}

	layout, err := stripe.New(cfg.Worker.StripeSize.Int64(), len(cfg.Worker.Volumes))
	if err != nil {
		return nil, err
	}

	var planned []stripe.Extent
	if merge {
		planned = layout.Runs(uint32(pos), uint32(length))
	} else {
		planned = layout.Plan(uint32(pos), uint32(length))
	}

	specs := cfg.Worker.VolumeSpecs()
	list := make(ExtentList, 0, len(planned))
	for _, e := range planned {
		list = append(list, Extent{
			Volume:       e.Device,
			VolumeOffset: e.Offset,
			Window:       e.Window,
			Length:       e.Length,
			Target:       describeVolume(specs[e.Device].Type, specs[e.Device].Path, specs[e.Device].S3.Bucket),
		})
	}
	return list, nil
}

func describeVolume(typ, path, bucket string) string {
	switch {
	case bucket != "":
		return typ + ":" + bucket
	case path != "":
		return typ + ":" + path
	default:
		return typ
	}
}
