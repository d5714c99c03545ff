// Command journey runs the assistant server and its command-line client.
package main

import "github.com/mesh-intelligence/journey/internal/cli"

func main() {
	cli.Execute()
}
