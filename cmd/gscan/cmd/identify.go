package cmd

import (
	"context"
	"log"
	"time"

	"github.com/roffe/gscan/pkg/bar"
	"github.com/spf13/cobra"
)

func init() {
	identifyCmd.Flags().Duration("duration", 5*time.Second, "how long to blink")
	rootCmd.AddCommand(identifyCmd)
}

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "blink the adapter LED",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := cmd.Flags().GetDuration("duration")
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

		if err := ctrl.Identify(ctx, true); err != nil {
			return err
		}
		log.Printf("identifying for %s", d)
		steps := int(d / (100 * time.Millisecond))
		pb := bar.Countdown(steps, "identify")
		t := time.NewTicker(100 * time.Millisecond)
		defer t.Stop()
	wait:
		for i := 0; i < steps; i++ {
			select {
			case <-t.C:
				pb.Add(1)
			case <-ctx.Done():
				break wait
			}
		}
		pb.Finish()
		return ctrl.Identify(context.WithoutCancel(ctx), false)
	},
}
