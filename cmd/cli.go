// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"spectra/internal/audio"
	"spectra/internal/config"
	"spectra/pkg/build"
)

// Loader produces the effective configuration: the config file, then
// environment overrides, then the flags given on the command line. It is
// called again on every reload.
type Loader func() (*config.Config, error)

// RunFunc runs the visualizer until ctx is cancelled.
type RunFunc func(ctx context.Context, load Loader) error

// options holds raw flag values. Only flags the user actually set are
// applied over the loaded configuration.
type options struct {
	configPath      string
	deviceID        int
	channels        int
	sampleRate      float64
	framesPerBuffer int
	lowLatency      bool
	bands           int
	refreshRate     float64
	threshold       float64
	gain            float64
	synthetic       bool
	tui             bool
	udp             bool
	udpTarget       string
	http            bool
	httpAddress     string
	record          bool
	outputFile      string
	verbose         bool
}

// NewRootCommand builds the command tree. run is invoked by the root command
// and listDevices by the list command.
func NewRootCommand(run RunFunc, listDevices func(w io.Writer) error) *cobra.Command {
	buildInfo := build.GetBuildFlags()
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         build.Description,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			load := func() (*config.Config, error) {
				cfg, err := config.LoadConfig(opts.configPath)
				if err != nil {
					return nil, err
				}
				opts.apply(cfg, flags.Changed)
				return cfg, cfg.Validate()
			}
			return run(cmd.Context(), load)
		},
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listDevices(cmd.OutOrStdout())
		},
	}
	rootCmd.AddCommand(listCmd)

	flags := rootCmd.Flags()

	flags.StringVarP(&opts.configPath, "config", "f", "",
		"Path to a YAML config file (default ./"+config.DefaultPath+" when present)")

	// Audio Device Configuration
	flags.IntVarP(&opts.deviceID, "device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' command to see available devices.")
	flags.IntVarP(&opts.channels, "channels", "c", config.DefaultChannels,
		"Number of channels to capture (1=mono, 2=stereo)")
	flags.Float64VarP(&opts.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	flags.IntVarP(&opts.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	flags.BoolVarP(&opts.lowLatency, "low-latency", "l", config.DefaultLowLatency,
		"Use the device's low latency setting")
	flags.BoolVar(&opts.synthetic, "synthetic", false,
		"Generate a test sweep instead of capturing from a device")

	// Analysis and display
	flags.IntVarP(&opts.bands, "bands", "n", config.DefaultBands,
		"Number of frequency bands")
	flags.Float64Var(&opts.refreshRate, "refresh-rate", config.DefaultRefreshRate,
		"Display refresh rate in Hz")
	flags.Float64VarP(&opts.threshold, "threshold", "t", config.DefaultVolumeThreshold,
		"RMS level below which frames are shown as silence (0-1)")
	flags.Float64VarP(&opts.gain, "gain", "g", 1.0,
		"Display gain applied after smoothing")

	// Outputs
	flags.BoolVar(&opts.tui, "tui", false, "Draw the spectrum in the terminal")
	flags.BoolVar(&opts.udp, "udp", false, "Publish frames as UDP packets")
	flags.StringVar(&opts.udpTarget, "udp-target", config.DefaultUDPTargetAddress, "UDP destination address")
	flags.BoolVar(&opts.http, "http", true, "Serve websocket, metrics and settings over HTTP")
	flags.StringVar(&opts.httpAddress, "http-addr", config.DefaultHTTPAddress, "HTTP listen address")

	// Recording Configuration
	flags.BoolVarP(&opts.record, "record", "r", false,
		"Record audio from the input to a WAV file")
	flags.StringVarP(&opts.outputFile, "output", "o", "",
		"Output file name. Default is recordings/spectra-YYYYMMDD-HHMMSS.wav")

	// Debug Configuration
	flags.BoolVarP(&opts.verbose, "verbose", "v", false,
		"Show verbose output")

	return rootCmd
}

// apply copies every flag for which changed reports true into cfg.
func (o *options) apply(cfg *config.Config, changed func(name string) bool) {
	set := func(name string, fn func()) {
		if changed(name) {
			fn()
		}
	}

	set("device", func() { cfg.Audio.InputDevice = o.deviceID })
	set("channels", func() { cfg.Audio.InputChannels = o.channels })
	set("sample-rate", func() { cfg.Audio.SampleRate = o.sampleRate })
	set("frames-per-buffer", func() { cfg.Audio.FramesPerBuffer = o.framesPerBuffer })
	set("low-latency", func() { cfg.Audio.LowLatency = o.lowLatency })
	set("synthetic", func() { cfg.Audio.Synthetic = o.synthetic })
	set("bands", func() { cfg.Pipeline.Bands = o.bands })
	set("refresh-rate", func() { cfg.Display.RefreshRate = o.refreshRate })
	set("threshold", func() { cfg.Pipeline.VolumeThreshold = o.threshold })
	set("gain", func() { cfg.Smoothing.Gain = o.gain })
	set("tui", func() { cfg.Transport.TUI = o.tui })
	set("udp", func() { cfg.Transport.UDPEnabled = o.udp })
	set("udp-target", func() { cfg.Transport.UDPTargetAddress = o.udpTarget })
	set("http", func() { cfg.Transport.HTTPEnabled = o.http })
	set("http-addr", func() { cfg.Transport.HTTPAddress = o.httpAddress })
	set("record", func() { cfg.Recording.Enabled = o.record })
	set("output", func() { cfg.Recording.OutputFile = o.outputFile })
	set("verbose", func() {
		cfg.Debug = o.verbose
		if o.verbose {
			cfg.LogLevel = "debug"
		}
	})
}

// Execute runs the command line in args against run.
func Execute(ctx context.Context, args []string, run RunFunc) error {
	rootCmd := NewRootCommand(run, audio.ListDevices)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
