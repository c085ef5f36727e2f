package service

import (
	"reactor-lab/internal/config"
)

type ServiceContext struct {
	Config      *config.Config
	AuthService *AuthService
	Lifecycle   *LifecycleManager
	Dispatcher  *Dispatcher
}

func NewServiceContext(cfg *config.Config) *ServiceContext {
	lifecycle := NewLifecycleManager(cfg)
	simulator := NewSimulator()

	return &ServiceContext{
		Config:      cfg,
		AuthService: NewAuthService(cfg),
		Lifecycle:   lifecycle,
		Dispatcher:  NewDispatcher(lifecycle, simulator.Simulate),
	}
}
