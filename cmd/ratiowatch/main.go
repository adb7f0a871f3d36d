package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"ratiowatch/internal/cli"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cli.Execute()
}
