package main

import "github.com/shopmesh/ordering-service/cmd"

func main() {
	cmd.Execute()
}
