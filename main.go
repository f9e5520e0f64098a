package main

import "github.com/Spalmalo/parallel-download/cmd"

func main() {
	cmd.Execute()
}
