package main

import (
	"log"

	"github.com/swarmgrid/swarm-core/internal/core"
)

func main() {
	if err := core.Run(); err != nil {
		log.Fatalf("core failed: %v", err)
	}
}
