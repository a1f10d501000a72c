package main

import (
	// Embedded zone database so plan timezones resolve on minimal images.
	_ "time/tzdata"

	"github.com/theakshaypant/studysync/cmd/studysync/cmd"
)

func main() {
	cmd.Execute()
}
