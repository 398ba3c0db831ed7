package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mtomd",
	Short: "MTOM attachment daemon",
	Long: `It's a small daemon and toolkit for SOAP messages with MTOM/XOP attachments.
It parses multipart/related streams without holding whole attachments in memory,
and writes them back out from buffers, files or a cache.`,
	Run: nil,
}

var (
	verbose bool
)

func init() {
	cobra.OnInitialize()
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"print out more debug information")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
			mainlog.SetLevel(logrus.DebugLevel.String())
		} else {
			logrus.SetLevel(logrus.InfoLevel)
		}
	}
}
