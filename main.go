package main

import "github.com/andresmejia3/dfprep/cmd"

func main() {
	cmd.Execute()
}
