package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/canboot/canboot/pkg/boot"
	"github.com/canboot/canboot/pkg/flash"
	"github.com/canboot/canboot/pkg/integrity"
	"github.com/canboot/canboot/pkg/meta"
)

var inspectFlash string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the bootloader state of a flash image file",
	Long:  "Prints the persisted slot metadata, the slot the bootloader would pick, and each slot's header and digest check.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := inspectFlash
		if path == "" {
			path = flash.DefaultPath()
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("could not open flash image: %w", err)
		}
		l := flash.DefaultLayout()
		dev, err := flash.OpenFile(path, l)
		if err != nil {
			return err
		}
		defer dev.Close()

		store := meta.NewStore(dev, l)
		if err := store.Load(); err != nil {
			return err
		}
		st := store.State()
		fmt.Printf("State at 0x%x:\n", l.StorageAddr)
		st.Debug(os.Stdout)

		if slot, err := meta.Select(st); err != nil {
			fmt.Printf("Boot selection: %v\n", err)
		} else {
			fmt.Printf("Boot selection: slot %s\n", slot)
		}

		for _, slot := range []meta.Slot{meta.SlotA, meta.SlotB} {
			md := st.Slots[slot]
			t, err := boot.ReadTarget(dev, l, slot)
			if err != nil {
				return err
			}
			fmt.Printf("Slot %s at 0x%x: %s\n", slot, l.Slots[slot], t)
			if !md.Version.Valid() || md.SectorCount == 0 || md.SectorCount > l.SectorsPerSlot() {
				fmt.Printf("  digest: not checked\n")
				continue
			}
			ok, err := integrity.VerifySlot(dev, l, slot, md)
			if err != nil {
				return err
			}
			if ok {
				fmt.Printf("  digest: OK\n")
			} else {
				fmt.Printf("  digest: MISMATCH\n")
			}
		}
		return nil
	},
}
