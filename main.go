package main

import "github.com/KaramelBytes/mpie/cmd"

func main() {
	cmd.Execute()
}
