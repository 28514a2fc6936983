package cmd

import (
	"fmt"

	"github.com/roffe/gscan"
	"github.com/roffe/gscan/pkg/libusb"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list adapters and attached gs_usb devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Adapters:")
		for _, a := range gscan.ListAdapters() {
			fmt.Printf("  %s (%s)\n", a.String(), a.Capabilities.String())
		}

		t := libusb.NewTransport()
		defer t.Close()
		lines, err := t.Describe()
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			fmt.Println("no gs_usb devices found")
			return nil
		}
		fmt.Println("Devices:")
		for _, l := range lines {
			fmt.Println(l)
		}
		return nil
	},
}
