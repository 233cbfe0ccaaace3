package main

import (
	"github.com/OFFIS-RIT/stancemap/backend/internal/server"
	"github.com/OFFIS-RIT/stancemap/backend/internal/util"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		JSON:   util.GetEnv("LOG_FORMAT") == "json",
		Prefix: "stancemap",
	})
	logger.Init(consoleLogger)

	server.Init()
}
