package main

import "dirpush/cmd"

func main() {
	cmd.Execute()
}
