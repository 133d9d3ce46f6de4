package main

import "formsave/internal/cli"

func main() {
	cli.Execute()
}
