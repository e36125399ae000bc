package main

import "github.com/example/cita-sniper/cmd"

func main() {
	cmd.Execute()
}
