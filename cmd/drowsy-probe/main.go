package main

import "github.com/oshokin/drowsy-alarm/cmd/drowsy-probe/cmd"

func main() {
	cmd.Execute()
}
