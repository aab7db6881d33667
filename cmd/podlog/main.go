// Command podlog is a tool for viewing and analyzing pod protocol log files.
//
// Log files are written by podctl when run with --protocol-log.
//
// Usage:
//
//	podlog <command> [flags] <file.plog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSONL or CSV format
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View only ledger events
//	podlog view --layer ledger pod.plog
//
//	# Follow one command through submission, outcome and dose settlement
//	podlog view --sequence 12 pod.plog
//
//	# Keep one pod's bolus commands
//	podlog filter --pod-id 1F0E89F1 --kind bolus -o bolus.plog pod.plog
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
