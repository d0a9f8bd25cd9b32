package main

import (
	"github.com/wasi-warden/warden/cmd"
)

func main() {
	cmd.Execute()
}
