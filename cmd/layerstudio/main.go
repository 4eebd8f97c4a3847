package main

import "github.com/MeKo-Tech/layerstudio/internal/cmd"

func main() {
	cmd.Execute()
}
