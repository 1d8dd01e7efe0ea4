package main

import "github.com/nextlevelbuilder/gchat/cmd"

func main() {
	cmd.Execute()
}
