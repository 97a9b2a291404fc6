package main

import (
	"fmt"

	"github.com/pulsesocial/pulse/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
