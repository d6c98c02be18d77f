// Package main provides the entry point for the searchveil CLI.
//
// searchveil is a privacy front end for web search. It fetches results
// upstream, strips ads and trackers, and relinks every outbound reference
// through shielded tokens so the upstream never sees the user.
//
// Usage:
//
//	searchveil serve
//	searchveil rewrite page.html
//	searchveil shield --key <hex> https://example.com/
//
// See --help for all available options.
package main

func main() {
	Execute()
}
