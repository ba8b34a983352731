// Command swcache runs the cache-first offline worker in front of an origin
// and ships the matching browser service worker script.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
