// Package main is the entry point for verimail: it sends verification mail
// and runs the development sink relay.
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
