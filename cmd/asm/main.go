// Package main is the entry point for the asm CLI tool.
package main

import (
	"github.com/attack-surface/asm/internal/cmd"
)

func main() {
	cmd.Execute()
}
