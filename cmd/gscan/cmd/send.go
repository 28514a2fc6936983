package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/roffe/gscan"
	"github.com/roffe/gscan/pkg/bar"
	"github.com/roffe/gscan/pkg/gsusb"
	"github.com/spf13/cobra"
)

func init() {
	sendCmd.Flags().IntP("count", "n", 1, "how many times to send the frame")
	sendCmd.Flags().Duration("interval", 0, "pause between frames")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <id> <hex data>",
	Short: "send a frame",
	Long:  `send a frame, data is space separated hex bytes, e.g. send 7DF "02 01 00"`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		count, err := cmd.Flags().GetInt("count")
		if err != nil {
			return err
		}
		interval, err := cmd.Flags().GetDuration("interval")
		if err != nil {
			return err
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		data, err := gsusb.ParseHexPayload(args[1])
		if err != nil {
			return err
		}

		c, err := initCAN(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		ctrl, err := controller(c)
		if err != nil {
			return err
		}

		canID := id
		if id > gsusb.SFFMask {
			canID |= gsusb.EFFFlag
		}
		frame := gscan.NewFrame(id, data, gscan.Outgoing)
		frame.Extended = id > gsusb.SFFMask

		if count <= 1 {
			if err := ctrl.Send(ctx, canID, data); err != nil {
				return err
			}
			log.Println(frame.String())
			return nil
		}

		pb := bar.Frames(count, fmt.Sprintf("sending 0x%03X", id))
		start := time.Now()
		for i := 0; i < count; i++ {
			if err := ctrl.Send(ctx, canID, data); err != nil {
				return err
			}
			pb.Add(1)
			if interval > 0 {
				select {
				case <-time.After(interval):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		pb.Finish()
		fmt.Println()
		log.Printf("sent %d frames in %s, %s", count, time.Since(start).Round(time.Millisecond), ctrl.Stats().String())
		return nil
	},
}
