package cmd

import (
	"fmt"
	"io"

	"binaural/internal/audio"
	"binaural/internal/tui"
)

// Devices lists the audio devices, or runs the interactive picker and
// prints the flags matching the selection.
func Devices(opts *Options, w io.Writer) error {
	if opts.Interactive {
		sel, err := tui.StartDeviceListUI()
		if err != nil {
			return err
		}
		if sel.Confirmed {
			fmt.Fprintf(w, "Run with: %s\n", sel.Flags())
		}
		return nil
	}

	devices, err := audio.GetDevices()
	if err != nil {
		return err
	}
	audio.ListDevices(w, devices)
	return nil
}
