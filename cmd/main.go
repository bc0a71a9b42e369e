package main

import (
	"github.com/corray333/message-queue/internal/app"
	"github.com/corray333/message-queue/internal/config"
)

func main() {
	config.MustInit()
	app.MustNewApp().Run()
}
