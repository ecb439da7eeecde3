package main

import "github.com/HsiangNianian/acp/cmd/acp/cmd"

func main() {
	cmd.Execute()
}
