package main

import "github.com/dbsmedya/pprload/cmd/pprload/cmd"

func main() {
	cmd.Execute()
}
