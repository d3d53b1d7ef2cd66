package main

import "github.com/fakeyudi/aiop/cmd"

func main() {
	cmd.Execute()
}
