package cmd

import (
	"fmt"

	"github.com/asgeir/slickscreen/config"
	"github.com/asgeir/slickscreen/internal/util"
	"github.com/asgeir/slickscreen/internal/version"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configFile string

	rootCmd = &cobra.Command{
		Use:   "slick",
		Short: "Screen and system audio recorder",
		Long:  `slick records a display together with the system audio output into an H.264/AAC Matroska or MPEG-TS file.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(configFile); err != nil {
				return err
			}
			util.InitLoggerWith(util.LogOptions{
				Verbose: verbose,
				Format:  config.GetLogFormat(),
			})
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flag("version").Changed {
				info := version.ClientInfo()
				fmt.Fprintf(cmd.OutOrStdout(), "slick version %s, build %s\n", info.Version, info.GitCommit)
				return nil
			}
			return cmd.Help()
		},
		SilenceUsage: true,
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default searches ./config.yaml, ~/.slickscreen and the XDG config dir)")

	rootCmd.AddCommand(NewFileCaptureCommand())
	rootCmd.AddCommand(NewListScreensCommand())
	rootCmd.AddCommand(NewVersionCommand())
}
