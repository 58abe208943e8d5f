package main

import "github.com/vietddude/cafepos/internal/cli"

func main() {
	cli.Execute()
}
