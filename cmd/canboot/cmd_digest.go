package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/canboot/canboot/pkg/flash"
	"github.com/canboot/canboot/pkg/image"
)

var digestCmd = &cobra.Command{
	Use:   "digest [image]",
	Short: "Print the digest a device will check for an image",
	Long:  "Pads the image to whole sectors as the flash command does and prints its SHA-256 digest, split into the chunks sent in the HashData frames.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := image.Load(args[0])
		if err != nil {
			return err
		}
		img, err := image.New(data, flash.DefaultLayout())
		if err != nil {
			return fmt.Errorf("could not prepare image: %w", err)
		}
		img.Debug(os.Stdout)
		return nil
	},
}
