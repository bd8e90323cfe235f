// Package main starts the SFU signaling server.
package main

import (
	"sfu-server/internal/app"
)

func main() {
	application, err := app.New()
	if err != nil {
		panic(err)
	}

	if err := application.Run(); err != nil {
		panic(err)
	}
}


