package controllers

import (
	"go.uber.org/dig"

	"github.com/aihub/docqa-go/internal/database"
	"github.com/aihub/docqa-go/internal/knowledge"
	"github.com/aihub/docqa-go/internal/llm"
	"github.com/aihub/docqa-go/internal/services"
)

// ControllerFactory 控制器工厂
type ControllerFactory struct {
	container *dig.Container
}

// NewControllerFactory 创建控制器工厂
func NewControllerFactory(container *dig.Container) *ControllerFactory {
	return &ControllerFactory{
		container: container,
	}
}

// CreateQAController 创建问答控制器
func (f *ControllerFactory) CreateQAController() (*QAController, error) {
	var controller *QAController
	err := f.container.Invoke(func(query *services.QueryService) {
		controller = NewQAController(query)
	})
	if err != nil {
		return nil, err
	}
	return controller, nil
}

type healthDeps struct {
	dig.In

	Checker   *database.HealthChecker `optional:"true"`
	Index     *knowledge.VectorIndex
	Embedder  knowledge.Embedder
	Generator *llm.BreakerGenerator
}

// CreateHealthController 创建健康检查控制器，未注册健康检查器时只报告索引和模型
func (f *ControllerFactory) CreateHealthController() (*HealthController, error) {
	var controller *HealthController
	err := f.container.Invoke(func(deps healthDeps) {
		controller = NewHealthController(deps.Checker, deps.Index, deps.Embedder, deps.Generator)
	})
	if err != nil {
		return nil, err
	}
	return controller, nil
}
