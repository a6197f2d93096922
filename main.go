package main

import "github.com/gkatanacio/gh-folder-download/cmd"

func main() {
	cmd.Execute()
}
