package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/canboot/canboot/pkg/flash"
	"github.com/canboot/canboot/pkg/image"
	"github.com/canboot/canboot/pkg/meta"
	"github.com/canboot/canboot/pkg/sender"
)

var (
	flashSlot     string
	flashVersion  string
	flashHashGap  time.Duration
	flashFrameGap time.Duration
	flashSettle   time.Duration
)

// flashOptions builds the sender configuration from the command line.
func flashOptions() []sender.Option {
	return []sender.Option{
		sender.WithHashGap(flashHashGap),
		sender.WithFrameGap(flashFrameGap),
		sender.WithSettleDelay(flashSettle),
		sender.WithProgressCallback(func(p sender.Progress) {
			slog.Info("Progress...", "phase", p.Phase, "sector", p.Sector, "sectors", p.Sectors, "percent", p.Frames*100/p.TotalFrames)
		}),
	}
}

var flashCmd = &cobra.Command{
	Use:   "flash [image]",
	Short: "Send an image to a device",
	Long: `Sends an image (raw binary, optionally .xz compressed) to a device waiting in
the bootloader's update mode. The device writes it to the given slot and starts
it once its digest checks out.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := meta.ParseSlot(flashSlot)
		if err != nil {
			return err
		}
		if flashVersion == "" {
			return fmt.Errorf("--version must be set")
		}
		version, err := meta.ParseVersion(flashVersion)
		if err != nil {
			return err
		}

		data, err := image.Load(args[0])
		if err != nil {
			return err
		}
		img, err := image.New(data, flash.DefaultLayout())
		if err != nil {
			return fmt.Errorf("could not prepare image: %w", err)
		}

		bus, err := openBus()
		if err != nil {
			return err
		}
		defer bus.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		s := sender.New(bus, flashOptions()...)
		slog.Info("Sending image...", "slot", slot, "version", version, "sectors", img.Sectors(), "digest", fmt.Sprintf("%x", img.Digest()))
		start := time.Now()
		if err := s.Send(ctx, img, slot, version); err != nil {
			return fmt.Errorf("sending image failed: %w", err)
		}
		slog.Info("Done!", "seconds", int(time.Since(start).Seconds()))
		return nil
	},
}
