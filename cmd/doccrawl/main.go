// Package main provides the doccrawl command.
//
// Usage:
//
//	doccrawl crawl <url> [flags]
//	doccrawl serve
//
// See --help for all available options.
package main

func main() {
	Execute()
}
