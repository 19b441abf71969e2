// Command flowbot runs the example registration bot.
package main

import (
	"log"

	corecmd "github.com/m3rciful/flowbot/core/cmd"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		ConfigEnvVar:      "FLOWBOT_CONFIG",
		DefaultConfigPath: "config.yaml",
		LoadConfig:        loadConfig,
		Bootstrap:         newApp,
	})
	if err != nil {
		log.Fatal(err)
	}
}
