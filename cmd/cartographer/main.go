package main

import "github.com/mosaicgis/cartographer/internal/cmd"

func main() {
	cmd.Execute()
}
