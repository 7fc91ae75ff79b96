// Package main provides the Forge ML Compiler CLI.
package main

import (
	"fmt"
	"os"

	"github.com/born-ml/forge/compile"
)

const version = "v0.0.1-dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("Forge ML Compiler %s\n", version)
			return
		case "settings":
			if len(os.Args) < 3 {
				fmt.Fprintln(os.Stderr, "usage: forge settings <file.yaml>")
				os.Exit(2)
			}
			checkSettings(os.Args[2])
			return
		}
	}

	fmt.Println("Forge ML Compiler - Graph-to-Engine Compilation for Go")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version            Show version")
	fmt.Println("  settings <file>    Validate a settings file")
}

func checkSettings(path string) {
	s, err := compile.LoadSettings(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid settings: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("settings ok: device=%s precisions=%v refittable=%t truncate=%t\n",
		s.Device, s.EnabledPrecisions, s.MakeRefittable, s.TruncateLongAndDouble)
}
