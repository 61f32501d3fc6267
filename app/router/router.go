package router

import (
	"github.com/beego/beego/v2/server/web"

	"github.com/aihub/docqa-go/app/controllers"
	"github.com/aihub/docqa-go/app/middleware"
	"github.com/aihub/docqa-go/internal/config"
	"github.com/aihub/docqa-go/internal/di"
)

// Init 注册路由
func Init(cfg *config.Config) error {
	middleware.RegisterAccessLog()

	factory := controllers.NewControllerFactory(di.GetContainer())

	qaController, err := factory.CreateQAController()
	if err != nil {
		return err
	}
	healthController, err := factory.CreateHealthController()
	if err != nil {
		return err
	}

	web.Router("/", &controllers.RootController{}, "get:Index")
	web.Router("/health", healthController, "get:Health")

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		web.Router(path, &controllers.MetricsController{}, "get:Metrics")
	}

	api := web.NewNamespace("/api/v1",
		web.NSRouter("/qa/run", qaController, "post:Run"),
		web.NSRouter("/stats", qaController, "get:Stats"),
		web.NSRouter("/documents/:id/sessions", qaController, "get:Sessions"),
	)
	web.AddNamespace(api)
	return nil
}
