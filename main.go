package main

import "qstorm/cmd"

func main() {
	cmd.Execute()
}
