// Command gcount runs a node of a grow-only counter kept in seq-kv. Each node owns the key
// named after its id and is the only writer of it; a read sums every node's key.
package main

import (
	"mini-maelstrom/cli"
)

func main() {
	cli.Main(cli.NewCommand("gcount", "Grow-only counter node", payloads, newNode))
}
