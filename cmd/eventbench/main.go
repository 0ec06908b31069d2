package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/G-Research/eventbench/cmd/eventbench/cmd"
	"github.com/G-Research/eventbench/internal/common"
)

func main() {
	common.ConfigureLogging()
	if err := cmd.RootCmd().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
