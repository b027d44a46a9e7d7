package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var verboseFlag bool

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "modinject",
		Short:         "Load a module into a running process and call one of its exports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			logrus.SetOutput(os.Stderr)
			if verboseFlag {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "log every injection step")
	root.AddCommand(newInjectCmd(), newResolveCmd())
	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		root.PrintErrf("[!] ERROR : %v\n", err)
		os.Exit(1)
	}
}
