// Command newsbrief turns a topic into a summarized news report.
package main

import "os"

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(execute(os.Args[1:]))
}
