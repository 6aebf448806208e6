// Command swarm plans and runs distributed tasks across isolated sub-agents.
package main

func main() {
	Execute()
}
