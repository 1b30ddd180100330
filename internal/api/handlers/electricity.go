package handlers

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/LoveACE-Team/LoveACE/internal/api/middleware"
	"github.com/LoveACE-Team/LoveACE/internal/database"
	"github.com/LoveACE-Team/LoveACE/internal/isim"
	"github.com/LoveACE-Team/LoveACE/internal/portal"
)

// ElectricityHandler serves dormitory electricity lookups. ISIM clients are
// cached per principal because each one carries subsystem session state.
type ElectricityHandler struct {
	sessions *portal.Manager
	bindings *database.BindingStore
	baseURL  string

	mu      sync.Mutex
	clients map[string]*isim.Client
}

func NewElectricityHandler(sessions *portal.Manager, bindings *database.BindingStore, baseURL string) *ElectricityHandler {
	return &ElectricityHandler{
		sessions: sessions,
		bindings: bindings,
		baseURL:  baseURL,
		clients:  make(map[string]*isim.Client),
	}
}

func (h *ElectricityHandler) client(principal string) *isim.Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[principal]; ok {
		return c
	}
	c := isim.NewClient(h.sessions, h.baseURL, principal)
	h.clients[principal] = c
	return c
}

// GetBuildings lists dormitory buildings.
// GET /v1/electricity/buildings
func (h *ElectricityHandler) GetBuildings(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	buildings, err := h.client(userID).Buildings(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"buildings": buildings})
}

// GetFloors lists floors for a building.
// GET /v1/electricity/floors?building=<code>
func (h *ElectricityHandler) GetFloors(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	building := c.Query("building")
	if building == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing building parameter"})
		return
	}

	floors, err := h.client(userID).Floors(c.Request.Context(), building)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"floors": floors})
}

// GetRooms lists rooms on a floor.
// GET /v1/electricity/rooms?floor=<code>
func (h *ElectricityHandler) GetRooms(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	floor := c.Query("floor")
	if floor == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing floor parameter"})
		return
	}

	rooms, err := h.client(userID).Rooms(c.Request.Context(), floor)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

type bindingRequest struct {
	Building string `json:"building" binding:"required"`
	Floor    string `json:"floor" binding:"required"`
	Room     string `json:"room" binding:"required"`
}

// PostBinding binds the principal's dormitory room. The selection is
// re-validated against the live pickers before the upstream rebind.
// POST /v1/electricity/binding
func (h *ElectricityHandler) PostBinding(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req bindingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	binding, err := h.client(userID).BindRoom(c.Request.Context(), req.Building, req.Floor, req.Room)
	if err != nil {
		if errors.Is(err, isim.ErrInvalidSelection) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		respondUpstreamError(c, err)
		return
	}

	if err := h.bindings.Save(c.Request.Context(), userID, *binding); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database error"})
		return
	}
	c.JSON(http.StatusOK, binding)
}

// GetElectricity returns balances and recent usage for the bound room.
// GET /v1/electricity
func (h *ElectricityHandler) GetElectricity(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	binding, err := h.bindings.Load(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, isim.ErrRoomNotBound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "no room bound; bind a room first"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database error"})
		return
	}

	electricity, err := h.client(userID).Electricity(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"binding":     binding,
		"electricity": electricity,
	})
}
