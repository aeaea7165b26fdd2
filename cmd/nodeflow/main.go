// nodeflow loads, validates and runs declarative node flows.
//
// Usage:
//
//	nodeflow run <file> [--input JSON] [--journal]
//	nodeflow validate <file>...
//	nodeflow serve [--flows DIR] [--metrics-addr ADDR]
//	nodeflow history [run-id] [--flow NAME] [--status STATE] [--limit N]
//	nodeflow diagram <file> [--format ascii|mermaid|png|svg] [--run RUN-ID] [--out FILE]
//	nodeflow version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "nodeflow:", err)
		os.Exit(1)
	}
}
