package main

import "github.com/akashicode/docuquery/cmd"

func main() {
	cmd.Execute()
}
