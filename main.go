package main

import (
	"log"

	"keypool/internal/cli"

	"github.com/joho/godotenv"
)

func main() {
	// 优先读取.env文件
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	cli.Execute()
}
