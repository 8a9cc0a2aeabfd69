//go:build tinygo

package main

import (
	"github.com/rs/zerolog"

	"ember/app"
	"ember/hal"
)

func main() {
	app.Run(hal.New(), app.Config{
		Paced:     true,
		LogLevel:  zerolog.InfoLevel,
		LogFormat: "text",
	})
}
