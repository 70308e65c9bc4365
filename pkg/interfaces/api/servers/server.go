package servers

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
	"github.com/tensorgrid/deploy-backend/pkg/orchestrator"
)

// PoolInventory mirrors the handler-side inventory surface so the server can
// carry it without importing the handlers package.
type PoolInventory interface {
	GetPool(poolID string) (*entities.ComputePool, error)
}

type Server struct {
	Router       *gin.Engine
	Orchestrator *orchestrator.Orchestrator
	Inventory    PoolInventory
}

func NewServer(orch *orchestrator.Orchestrator, inventory PoolInventory, corsOrigins []string) *Server {
	app := gin.New()
	app.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = corsOrigins
	corsCfg.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"*"}
	app.Use(cors.New(corsCfg))

	return &Server{
		Router:       app,
		Orchestrator: orch,
		Inventory:    inventory,
	}
}

func (s *Server) Start(port string) error {
	return s.Router.Run(":" + port)
}
