package main

import (
	"log"

	"blockwell/server/internal/app"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	if err := app.Run(cfg); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
