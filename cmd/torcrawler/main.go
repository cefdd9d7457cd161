// Package main provides the entry point for the torcrawler CLI.
//
// torcrawler fetches every URL of a parameterized template through Tor,
// rotating the circuit every few requests, and caches the scraped records
// so an interrupted crawl resumes where it stopped.
//
// Usage:
//
//	torcrawler init
//	torcrawler crawl -c torcrawler.yaml
//	torcrawler status
//	torcrawler export
//
// See --help for all available options.
package main

func main() {
	Execute()
}
