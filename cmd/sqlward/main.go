package main

import "github.com/sqlward/sqlward/cmd/sqlward/cmd"

func main() {
	cmd.Execute()
}
