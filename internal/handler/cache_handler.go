package handler

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/tillpoint/possync/internal/repository"
	"github.com/tillpoint/possync/internal/utils"
)

// CacheHandler exposes the offline reference-data cache (menu snapshots,
// price lists) to the POS UI.
type CacheHandler struct {
	cacheRepo *repository.CacheRepository
}

// NewCacheHandler creates a new CacheHandler.
func NewCacheHandler(cacheRepo *repository.CacheRepository) *CacheHandler {
	return &CacheHandler{cacheRepo: cacheRepo}
}

// Get handles GET /v1/cache/:key.
func (h *CacheHandler) Get(c *gin.Context) {
	value, err := h.cacheRepo.Get(c.Param("key"))
	if err != nil {
		if errors.Is(err, repository.ErrCacheMiss) {
			utils.Error(c, 404, "CACHE_MISS", "No cached object for that key")
			return
		}
		utils.Error(c, 500, "STORE_ERROR", err.Error())
		return
	}
	utils.Success(c, 200, "Cached object", value)
}

// Put handles PUT /v1/cache/:key.
func (h *CacheHandler) Put(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		utils.Error(c, 400, "INVALID_REQUEST", err.Error())
		return
	}
	if !json.Valid(body) {
		utils.Error(c, 400, "INVALID_JSON", "cache values must be valid JSON")
		return
	}
	if err := h.cacheRepo.Put(c.Param("key"), body); err != nil {
		utils.Error(c, 500, "STORE_ERROR", err.Error())
		return
	}
	utils.Success(c, 200, "Cached object stored", nil)
}
