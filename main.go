package main

import "github.com/kiesman99/geoquadtree/cmd"

func main() {
	cmd.Execute()
}
