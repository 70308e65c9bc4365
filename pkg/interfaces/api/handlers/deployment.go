package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tensorgrid/deploy-backend/pkg/domain/entities"
	"github.com/tensorgrid/deploy-backend/pkg/interfaces/api/dtos"
	"github.com/tensorgrid/deploy-backend/pkg/orchestrator"
)

// PoolInventory is the read-only inventory surface the handler needs.
type PoolInventory interface {
	GetPool(poolID string) (*entities.ComputePool, error)
}

type DeploymentHandler struct {
	Orchestrator *orchestrator.Orchestrator
	Inventory    PoolInventory
}

func NewDeploymentHandler(orch *orchestrator.Orchestrator, inventory PoolInventory) *DeploymentHandler {
	return &DeploymentHandler{Orchestrator: orch, Inventory: inventory}
}

func (h *DeploymentHandler) CreateDeployment(c *gin.Context) {
	var request dtos.CreateDeploymentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := h.Orchestrator.Create(request.OrgID, request.Provider, request.WorkloadSpec)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dtos.CreateDeploymentResponse{DeploymentID: d.ID.String()})
}

func (h *DeploymentHandler) GetStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	d, err := h.Orchestrator.Status(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dtos.FromDeployment(d))
}

func (h *DeploymentHandler) ListDeployments(c *gin.Context) {
	orgID := c.Query("org_id")
	if orgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org_id is required"})
		return
	}

	list, err := h.Orchestrator.List(orgID)
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]dtos.DeploymentResponse, 0, len(list))
	for _, d := range list {
		out = append(out, dtos.FromDeployment(d))
	}
	c.JSON(http.StatusOK, gin.H{"deployments": out})
}

func (h *DeploymentHandler) StartDeployment(c *gin.Context) {
	h.lifecycle(c, h.Orchestrator.Start)
}

func (h *DeploymentHandler) StopDeployment(c *gin.Context) {
	h.lifecycle(c, h.Orchestrator.Stop)
}

func (h *DeploymentHandler) TerminateDeployment(c *gin.Context) {
	h.lifecycle(c, h.Orchestrator.Terminate)
}

func (h *DeploymentHandler) lifecycle(c *gin.Context, action func(uuid.UUID) (*entities.DeploymentEntity, error)) {
	var request dtos.LifecycleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := uuid.Parse(request.DeploymentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deploymentId must be a uuid"})
		return
	}

	d, err := action(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dtos.FromDeployment(d))
}

func (h *DeploymentHandler) DeleteDeployment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.Orchestrator.Delete(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OK"})
}

func (h *DeploymentHandler) UpdateDeployment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var request dtos.UpdateConfigRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := h.Orchestrator.UpdateConfig(id, orchestrator.ConfigPatch{
		Env:            request.Env,
		Replicas:       request.Replicas,
		InferenceModel: request.InferenceModel,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dtos.FromDeployment(d))
}

// GetLogs streams the workload log to the client chunk by chunk until either
// side closes.
func (h *DeploymentHandler) GetLogs(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	stream, err := h.Orchestrator.Logs(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	defer stream.Close()

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)
	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return
			}
			c.Writer.Flush()
		}
		if err != nil {
			return
		}
	}
}

func (h *DeploymentHandler) GetPoolInventory(c *gin.Context) {
	poolID := c.Param("poolId")
	if poolID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "poolId is required"})
		return
	}

	pool, err := h.Inventory.GetPool(poolID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dtos.FromPool(pool))
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a uuid"})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps the domain error taxonomy onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	var validation *entities.ValidationError
	var conflict *entities.ConflictError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.Is(err, entities.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "deployment not found"})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error()})
	case errors.Is(err, io.EOF):
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body is required"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
