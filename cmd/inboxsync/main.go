package main

import "github.com/vietddude/inboxsync/internal/cli"

func main() {
	cli.Execute()
}
