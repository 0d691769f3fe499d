package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_reel/internal/ledger"
)

var (
	// ErrNotFound is returned by a CrudService when the resource to remove
	// does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidID is returned for a resource id that cannot be parsed.
	ErrInvalidID = errors.New("invalid resource id")
)

// CrudService defines the minimal interface required for CRUD operations on a
// resource R created from a request payload T.
type CrudService[T any, R any] interface {
	All(ctx context.Context) ([]R, error)
	// Add creates the resource, or returns the existing one with created
	// set to false.
	Add(ctx context.Context, item T) (res R, created bool, err error)
	Remove(ctx context.Context, id string) ([]R, error)
}

// CrudValidator defines the interface for validating a payload.
type CrudValidator[T any] interface {
	Validate(item T) error
}

// CrudController provides generic CRUD handlers for resources.
type CrudController[T any, R any] struct {
	Service   CrudService[T, R]
	Validator CrudValidator[T]
}

// RegisterCrudRoutes registers CRUD endpoints for a resource on the given router group.
func (cc *CrudController[T, R]) RegisterCrudRoutes(rg *gin.RouterGroup, resource string) {
	rg.GET("/"+resource+"s", cc.GetAll)
	rg.POST("/"+resource, cc.Create)
	rg.DELETE("/"+resource+"/:id", cc.Delete)
}

// GetAll handles GET requests to list all resources.
func (cc *CrudController[T, R]) GetAll(c *gin.Context) {
	items, err := cc.Service.All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read resource list"})
		return
	}
	c.JSON(http.StatusOK, items)
}

// Create handles POST requests. It answers 201 when the resource was created
// and 200 when it already existed.
func (cc *CrudController[T, R]) Create(c *gin.Context) {
	var item T
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if cc.Validator != nil {
		if err := cc.Validator.Validate(item); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	res, created, err := cc.Service.Add(c.Request.Context(), item)
	if err != nil {
		writeError(c, err, "failed to create resource")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

// Delete handles DELETE requests to remove a resource by id.
func (cc *CrudController[T, R]) Delete(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing resource id"})
		return
	}
	items, err := cc.Service.Remove(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "failed to delete resource")
		return
	}
	c.JSON(http.StatusOK, items)
}

// writeError maps domain errors onto HTTP statuses. Unknown errors become a
// 500 with a generic message.
func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ledger.ErrMovieNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidID),
		errors.Is(err, ledger.ErrInvalidQuality),
		errors.Is(err, ledger.ErrInvalidProgress):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
