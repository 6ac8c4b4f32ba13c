package main

import "github.com/adminsys/fieldcrypt/internal/cli"

func main() {
	cli.Execute()
}
