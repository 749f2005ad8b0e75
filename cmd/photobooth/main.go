package main

import "github.com/bryanchriswhite/PhotoBooth/cmd/photobooth/commands"

func main() {
	commands.Execute()
}
