package main

import (
	"log"

	tool "github.com/Madhan-droid/user-management-kiro-poc/internal/tools/obscheck"
)

func main() {
	if err := tool.NewRootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}
