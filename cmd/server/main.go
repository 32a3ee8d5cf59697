package main

import "github.com/iliyamo/club-events/cmd/server/cmd"

func main() {
	cmd.Execute()
}
