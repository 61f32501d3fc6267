package main

import (
	"log"
	"strconv"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	"github.com/aihub/docqa-go/app/bootstrap"
	"github.com/aihub/docqa-go/app/router"
	"github.com/aihub/docqa-go/internal/logger"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	if err := router.Init(app.Config()); err != nil {
		logger.Fatal("Failed to initialize routes", zap.Error(err))
	}

	port, err := strconv.Atoi(app.Config().Server.Port)
	if err != nil {
		logger.Fatal("Invalid server port", zap.String("port", app.Config().Server.Port))
	}

	web.BConfig.AppName = "docqa"
	web.BConfig.CopyRequestBody = true
	web.BConfig.Listen.HTTPPort = port
	if app.Config().Server.Env == "production" {
		web.BConfig.RunMode = web.PROD
	}

	logger.Info("Starting document QA service", zap.Int("port", port))
	web.Run()
}
