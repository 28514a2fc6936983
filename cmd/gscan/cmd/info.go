package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "print device config and bit timing limits",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := initCAN(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctrl, err := controller(c)
		if err != nil {
			return err
		}
		dc, err := ctrl.DeviceConfig(ctx)
		if err != nil {
			return err
		}
		fmt.Println(dc.String())

		bt, err := ctrl.BitTimingConst(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("clock: %d Hz, tseg1: %d-%d, tseg2: %d-%d, sjw max: %d, brp: %d-%d (inc %d), features: %#x\n",
			bt.FclkCAN, bt.Tseg1Min, bt.Tseg1Max, bt.Tseg2Min, bt.Tseg2Max, bt.SJWMax, bt.BRPMin, bt.BRPMax, bt.BRPInc, bt.Feature)
		fmt.Printf("bitrate: %d bit/s, packet size: %d\n", ctrl.Bitrate(), ctrl.PacketSize())
		return nil
	},
}
