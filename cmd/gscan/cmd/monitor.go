package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "print received frames",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := initCAN(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		ctrl, err := controller(c)
		if err != nil {
			return err
		}
		defer func() { log.Println(ctrl.Stats().String()) }()

		errg, ctx := errgroup.WithContext(cmd.Context())
		sub := c.Subscribe(ctx)
		errg.Go(func() error {
			for frame := range sub.Chan() {
				log.Println(frame.ColorString())
			}
			return nil
		})
		errg.Go(func() error {
			return printEvents(ctx, c)
		})
		if err := errg.Wait(); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}
