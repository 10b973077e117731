package main

import "github.com/lockplane/lockstep/cmd"

func main() {
	cmd.Execute()
}
