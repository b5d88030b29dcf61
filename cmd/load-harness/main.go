// Package main provides the entry point for the load-harness CLI.
package main

import "yqhp/load-harness/cmd"

func main() {
	cmd.Execute()
}
