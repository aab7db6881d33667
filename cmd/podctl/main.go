// Command podctl runs the pod command engine against a simulated pod.
//
// Usage:
//
//	podctl run [--store podcore.db] [--protocol-log pod.plog] [--metrics-addr :9090]
//	podctl state [--format text|json|yaml]
//	podctl history [--format text|json|yaml]
//
// The run command opens an interactive shell. Type 'help' in the shell for
// the command list. Protocol logs are read with podlog.
package main

import (
	"fmt"
	"os"

	"github.com/loopwire/podcore/cmd/podctl/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
