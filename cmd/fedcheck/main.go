package main

import (
	"log"

	"github.com/MrSnakeDoc/fedcheck/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ fedcheck failed to start: %v", err)
	}
}
