package main

import (
	"context"

	"moodledl/cmd/moodledl/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
