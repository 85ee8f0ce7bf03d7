package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/canboot/canboot/pkg/boot"
	"github.com/canboot/canboot/pkg/bootloader"
	"github.com/canboot/canboot/pkg/flash"
)

var (
	simulateFlash string
	simulateDepth int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the bootloader against a flash image file",
	Long: `Runs the bootloader on this host. Flash is backed by a file, created erased if
missing, and update frames are received from the CAN adapter. The command exits
when the bootloader hands control to an application, printing where it would
have jumped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := simulateFlash
		if path == "" {
			path = flash.DefaultPath()
		}
		l := flash.DefaultLayout()
		dev, err := flash.OpenFile(path, l)
		if err != nil {
			return err
		}
		slog.Info("Using flash image", "path", path)

		bus, err := openBus()
		if err != nil {
			dev.Close()
			return err
		}

		var opts []bootloader.Option
		if simulateDepth > 0 {
			opts = append(opts, bootloader.WithQueueDepth(simulateDepth))
		}
		rec := &boot.Recorder{}
		bl, err := bootloader.New(dev, l, rec, bus, opts...)
		if err != nil {
			bus.Close()
			dev.Close()
			return err
		}
		defer bl.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		runErr := bl.Run(ctx)
		for _, t := range rec.Targets() {
			slog.Info("Application started", "slot", t.Slot, "vectors", fmt.Sprintf("0x%08x", t.VectorTable), "msp", fmt.Sprintf("0x%08x", t.Header.StackPointer), "reset", fmt.Sprintf("0x%08x", t.Header.ResetVector))
		}
		if s := bl.Session(); s != nil {
			snap := s.Snapshot()
			slog.Debug("Update session", "state", snap.State, "slot", snap.Slot, "sectors", snap.SectorsCommitted, "halted", snap.Halted)
		}
		if len(rec.Targets()) == 0 && runErr != nil {
			return fmt.Errorf("bootloader stopped: %w", runErr)
		}
		return nil
	},
}
