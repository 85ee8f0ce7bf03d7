package main

import (
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/exp/slices"

	"github.com/canboot/canboot/pkg/can"
	"github.com/canboot/canboot/pkg/can/gsusb"
	"github.com/canboot/canboot/pkg/can/slcan"
)

var rootCmd = &cobra.Command{
	Use:   "canboot",
	Short: "canboot updates and simulates A/B CAN bootloaders",
	Long: `Sends firmware images to devices running the CAN bootloader, and runs the
bootloader itself against a file-backed flash image for testing.

Images are padded to whole flash sectors and protected by a SHA-256 digest
the device checks before starting them. There is no signature: anyone on the
bus can install an image.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verboseLog {
			slog.SetLogLoggerLevel(slog.LevelDebug)
			flag.Set("logtostderr", "true")
			flag.Set("v", "2")
		}
		return nil
	},
}

var (
	verboseLog  bool
	adapterName string
	portName    string
	bitrate     int
)

var adapters = []string{"gsusb", "slcan"}

func setupCommands() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVar(&verboseLog, "verbose", false, "Enable verbose debug logging")
	rootCmd.PersistentFlags().StringVar(&adapterName, "adapter", "slcan", fmt.Sprintf("CAN adapter type (one of: %s)", strings.Join(adapters, ", ")))
	rootCmd.PersistentFlags().StringVar(&portName, "port", "/dev/ttyACM0", "Serial port of an slcan adapter")
	rootCmd.PersistentFlags().IntVar(&bitrate, "bitrate", 500000, "CAN bus bitrate in bit/s")

	flashCmd.Flags().StringVarP(&flashSlot, "slot", "s", "A", "Slot to write the image to (A or B)")
	flashCmd.Flags().StringVarP(&flashVersion, "version", "V", "", "Version to announce for the image, as major.minor.patch")
	flashCmd.Flags().DurationVar(&flashHashGap, "hash-gap", 100*time.Millisecond, "Pause after each digest frame")
	flashCmd.Flags().DurationVar(&flashFrameGap, "frame-gap", 10*time.Millisecond, "Pause after each data frame")
	flashCmd.Flags().DurationVar(&flashSettle, "settle", 8*time.Second, "Pause after each sector commit")
	simulateCmd.Flags().StringVarP(&simulateFlash, "flash", "f", "", "Flash image file (default: in the user data directory)")
	simulateCmd.Flags().IntVar(&simulateDepth, "queue", 0, "Receive queue depth (default: as on the device)")
	inspectCmd.Flags().StringVarP(&inspectFlash, "flash", "f", "", "Flash image file (default: in the user data directory)")

	rootCmd.AddCommand(flashCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(digestCmd)
}

func main() {
	setupCommands()
	rootCmd.Execute()
}

func init() {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
}

// openBus opens the adapter selected on the command line.
func openBus() (can.Bus, error) {
	if !slices.Contains(adapters, adapterName) {
		return nil, fmt.Errorf("--adapter must be one of: %s", strings.Join(adapters, ", "))
	}
	switch adapterName {
	case "gsusb":
		b, err := gsusb.Open(bitrate)
		if err != nil {
			return nil, fmt.Errorf("could not open gs_usb adapter: %w", err)
		}
		slog.Info("Found adapter", "kind", b.Desc.Kind)
		return b, nil
	default:
		rates := slcan.Bitrates()
		slices.Sort(rates)
		if !slices.Contains(rates, bitrate) {
			return nil, fmt.Errorf("--bitrate must be one of %v for slcan", rates)
		}
		return slcan.Open(portName, bitrate)
	}
}
