package main

import (
	"os"
)

const version = "0.1.0"

func main() {
	os.Exit(newApp(os.Stdout, os.Stderr).execute(os.Args[1:]))
}
