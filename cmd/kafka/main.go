// Command kafka runs a node of a replicated-log service. Every key's log is owned by one
// node, chosen by consistent hashing over the cluster; the other nodes forward to it.
package main

import (
	"mini-maelstrom/cli"
)

func main() {
	cli.Main(cli.NewCommand("kafka", "Kafka-style log node", payloads, newNode))
}
