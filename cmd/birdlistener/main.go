// Command birdlistener captures audio, identifies bird species in fixed-length
// chunks and stores the detections.
//
// Usage:
//
//	birdlistener [run] [--config file] [-i input.wav] [-o detections.db] [-a wav|udp]
//	birdlistener validate --config file
//	birdlistener version
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
