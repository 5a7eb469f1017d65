package main

import "github.com/oshokin/drowsy-alarm/cmd/drowsy-monitor/cmd"

func main() {
	cmd.Execute()
}
