package main

import "github.com/openvenue/scheduler/cmd"

func main() {
	cmd.Execute()
}
