// Package main is the entry point for the lockscan command line and API server.
package main

import "github.com/ortelius/lockscan/cmd"

func main() {
	cmd.Execute()
}
