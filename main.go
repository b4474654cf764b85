package main

import "github.com/grantbrooksgoodman/yosemite-sub000/cmd"

func main() {
	cmd.Run()
}
