package main

import "github.com/nextlevelbuilder/across/cmd"

func main() {
	cmd.Execute()
}
