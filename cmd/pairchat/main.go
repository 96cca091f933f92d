// Command pairchat runs the chat server or a terminal chat client.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pairchat",
		Short:        "One-to-one chat with live delivery and durable history",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newChatCmd(), newTokenCmd())
	return root
}
