package main

import (
	"github.com/mengelbart/framesync/cmdmain"
	_ "github.com/mengelbart/framesync/subcmd"
)

func main() {
	cmdmain.Main()
}
