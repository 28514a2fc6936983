package cmd

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/roffe/gscan"
	"github.com/roffe/gscan/pkg/gsusb"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "gscan",
	Short:        "candleLight / gs_usb CAN tool",
	Long:         `Talk to gs_usb compatible USB CAN adapters over libusb`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagBitrate    = "bitrate"
	flagRetries    = "retries"
	flagListenOnly = "listen-only"
	flagDebug      = "debug"
	flagMinFW      = "min-fw"
	flagFilter     = "filter"
	flagAdapter    = "adapter"
)

func init() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	pf := rootCmd.PersistentFlags()
	pf.Float64P(flagBitrate, "b", 500, "CAN bitrate in kbit/s")
	pf.IntP(flagRetries, "r", gsusb.DefaultRetries, "device discovery attempts")
	pf.BoolP(flagListenOnly, "l", false, "open the bus in listen-only mode")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.String(flagMinFW, "", "minimum firmware version, e.g. 2")
	pf.StringSlice(flagFilter, nil, "only receive these CAN identifiers (hex)")
	pf.StringP(flagAdapter, "a", "gs_usb", "what adapter to use")
}

func adapterConfig(cmd *cobra.Command) (*gscan.AdapterConfig, error) {
	pf := cmd.Flags()
	bitrate, err := pf.GetFloat64(flagBitrate)
	if err != nil {
		return nil, err
	}
	retries, err := pf.GetInt(flagRetries)
	if err != nil {
		return nil, err
	}
	listenOnly, err := pf.GetBool(flagListenOnly)
	if err != nil {
		return nil, err
	}
	debug, err := pf.GetBool(flagDebug)
	if err != nil {
		return nil, err
	}
	minFW, err := pf.GetString(flagMinFW)
	if err != nil {
		return nil, err
	}
	rawFilter, err := pf.GetStringSlice(flagFilter)
	if err != nil {
		return nil, err
	}
	filter := make([]uint32, 0, len(rawFilter))
	for _, s := range rawFilter {
		id, err := parseID(s)
		if err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", s, err)
		}
		filter = append(filter, id)
	}
	return &gscan.AdapterConfig{
		Debug:                  debug,
		CANRate:                bitrate,
		CANFilter:              filter,
		ListenOnly:             listenOnly,
		Retries:                retries,
		PrintVersion:           debug,
		MinimumFirmwareVersion: minFW,
		OnMessage: func(s string) {
			log.Println(s)
		},
	}, nil
}

// parseID reads a hex CAN identifier with or without 0x prefix.
func parseID(s string) (uint32, error) {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	if v > uint64(gsusb.EFFMask) {
		return 0, fmt.Errorf("identifier %X out of range", v)
	}
	return uint32(v), nil
}

func initCAN(cmd *cobra.Command) (*gscan.Client, error) {
	cfg, err := adapterConfig(cmd)
	if err != nil {
		return nil, err
	}
	name, err := cmd.Flags().GetString(flagAdapter)
	if err != nil {
		return nil, err
	}
	c, err := gscan.New(cmd.Context(), name, cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("%s connected @ %g kbit/s", name, cfg.CANRate)
	return c, nil
}

type controllerAdapter interface {
	Controller() *gsusb.Controller
}

func controller(c *gscan.Client) (*gsusb.Controller, error) {
	ca, ok := c.Adapter().(controllerAdapter)
	if !ok {
		return nil, fmt.Errorf("%s has no gs_usb controller", c.Adapter().Name())
	}
	return ca.Controller(), nil
}

// printEvents logs adapter events until ctx is done.
func printEvents(ctx context.Context, c *gscan.Client) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-c.Event():
			log.Println(e.String())
		case err := <-c.Err():
			if err == nil {
				return nil
			}
			return err
		}
	}
}
