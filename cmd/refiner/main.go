// Command refiner iteratively generates, deploys and screenshots a web
// application until a reviewer approves it.
package main

import "github.com/rskrny/aipromptai/cmd/refiner/cmd"

func main() {
	cmd.Execute()
}
