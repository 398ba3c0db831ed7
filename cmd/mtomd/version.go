package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// set with -ldflags "-X main.Version=..."
var (
	Version   string
	Commit    string
	BuildTime string
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version info",
	Long:  `Every software has a version. This is mtomd's`,
	Run: func(cmd *cobra.Command, args []string) {
		logVersion()
	},
}

func init() {
	// If version, commit, or build time are not set, make that clear.
	if Version == "" {
		Version = "unknown"
	}
	if Commit == "" {
		Commit = "unknown"
	}
	if BuildTime == "" {
		BuildTime = "unknown"
	}
	rootCmd.AddCommand(versionCmd)
}

func logVersion() {
	mainlog.WithFields(logrus.Fields{
		"version":   Version,
		"buildTime": BuildTime,
		"commit":    Commit,
	}).Info("mtomd")
}
