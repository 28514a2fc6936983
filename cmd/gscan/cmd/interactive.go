package cmd

import (
	"errors"
	"log"

	"github.com/manifoldco/promptui"
	"github.com/roffe/gscan"
	"github.com/roffe/gscan/pkg/gsusb"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	interactiveCmd.Flags().String("id", "123", "CAN identifier to send with (hex)")
	rootCmd.AddCommand(interactiveCmd)
}

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "send hex lines typed at the prompt, print what comes back",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rawID, err := cmd.Flags().GetString("id")
		if err != nil {
			return err
		}
		id, err := parseID(rawID)
		if err != nil {
			return err
		}

		c, err := initCAN(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		errg, ctx := errgroup.WithContext(cmd.Context())
		sub := c.Subscribe(ctx)
		go func() {
			for frame := range sub.Chan() {
				log.Println(frame.ColorString())
			}
		}()
		errg.Go(func() error {
			return printEvents(ctx, c)
		})

		prompt := promptui.Prompt{
			Label: "data",
			Validate: func(s string) error {
				_, err := gsusb.ParseHexPayload(s)
				return err
			},
		}
		for ctx.Err() == nil {
			line, err := prompt.Run()
			if err != nil {
				if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
					break
				}
				return err
			}
			data, _ := gsusb.ParseHexPayload(line)
			frame := gscan.NewFrame(id, data, gscan.Outgoing)
			frame.Extended = id > gsusb.SFFMask
			if err := c.Send(frame); err != nil {
				log.Println(err)
			}
		}
		c.Close()
		return errg.Wait()
	},
}
