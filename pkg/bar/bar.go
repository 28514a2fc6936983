// Package bar renders the terminal progress bars used by the CLI.
package bar

import (
	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

var theme = progressbar.Theme{
	Saucer:        "[green]=[reset]",
	SaucerHead:    "[green]>[reset]",
	SaucerPadding: " ",
	BarStart:      "[",
	BarEnd:        "]",
}

// Frames counts sent frames.
func Frames(count int, text string) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		count,
		progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription("[cyan]"+text+"[reset]"),
		progressbar.OptionSetTheme(theme),
	)
}

// Countdown ticks once per step of a fixed wait.
func Countdown(steps int, text string) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		steps,
		progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription(text),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(theme),
	)
}
