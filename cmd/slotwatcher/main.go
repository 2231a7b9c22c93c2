package main

import "github.com/vietddude/slotwatcher/internal/cli"

func main() {
	cli.Execute()
}
