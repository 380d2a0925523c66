package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"tokobot/internal/entities"
	"tokobot/internal/infrastructure"
	"tokobot/internal/usecases"
)

type Handler struct {
	dispatcher *usecases.Dispatcher
	dashboard  *usecases.DashboardUsecase
	waClient   *infrastructure.WhatsAppClient
}

func NewHandler(dispatcher *usecases.Dispatcher, dashboard *usecases.DashboardUsecase, waClient *infrastructure.WhatsAppClient) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		dashboard:  dashboard,
		waClient:   waClient,
	}
}

func SetupRoutes(r *gin.Engine, dispatcher *usecases.Dispatcher, auth *usecases.AuthUsecase, dashboard *usecases.DashboardUsecase, waClient *infrastructure.WhatsAppClient, middleware *Middleware) {
	h := NewHandler(dispatcher, dashboard, waClient)

	r.Use(RequestSizeLimiter(1 << 20)) // 1MB max request size
	r.Use(middleware.CORSMiddleware())

	// Public auth route
	r.POST("/api/auth/login", func(c *gin.Context) {
		var loginReq struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&loginReq); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		token, err := auth.Login(loginReq.Username, loginReq.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	// Protected dashboard routes
	api := r.Group("/api")
	api.Use(middleware.AuthRequired())
	api.Use(middleware.RateLimitPerUser(5, 10))
	{
		api.GET("/dashboard/stats", h.GetStats)

		api.GET("/handoffs", h.ListHandoffs)
		api.GET("/agents", h.ListAgents)
		api.GET("/customers", h.ListCustomers)

		api.GET("/whatsapp/qr", h.GetQRCode)
		api.GET("/whatsapp/status", h.GetWhatsAppStatus)
	}

	// Admin-only routes
	admin := r.Group("/api/admin")
	admin.Use(middleware.AuthRequired())
	admin.Use(middleware.AdminRequired())
	{
		admin.POST("/agents", h.CreateAgent)
		admin.PUT("/agents/:id", h.UpdateAgent)
		admin.POST("/agents/:id/resolve", h.ResolveAgentSession)
		admin.PUT("/customers/:id/blocked", h.SetCustomerBlocked)
		admin.POST("/broadcast", h.Broadcast)
		admin.POST("/test-message", h.SendTestMessage)
	}
}

func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.dashboard.Stats())
}

func (h *Handler) ListHandoffs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	handoffs, err := h.dashboard.ListHandoffs(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"handoffs": handoffs})
}

func (h *Handler) ListAgents(c *gin.Context) {
	agents, err := h.dashboard.ListAgents()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

func (h *Handler) ListCustomers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	customers, err := h.dashboard.ListCustomers(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers})
}

func (h *Handler) CreateAgent(c *gin.Context) {
	var agent entities.Agent
	if err := c.ShouldBindJSON(&agent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if agent.Name == "" || !ValidAddress(agent.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and a numeric address are required"})
		return
	}
	agent.Active = true
	if err := h.dashboard.CreateAgent(&agent); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, agent)
}

func (h *Handler) UpdateAgent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agent id"})
		return
	}
	var agent entities.Agent
	if err := c.ShouldBindJSON(&agent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	agent.ID = id
	if err := h.dashboard.UpdateAgent(&agent); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, agent)
}

// ResolveAgentSession force-closes an agent's live session from the dashboard.
func (h *Handler) ResolveAgentSession(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agent id"})
		return
	}
	customer, err := h.dashboard.ResolveHandoff(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if customer == "" {
		c.JSON(http.StatusOK, gin.H{"resolved": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true, "customer": customer})
}

func (h *Handler) SetCustomerBlocked(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer id"})
		return
	}
	var req struct {
		Blocked bool `json:"blocked"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.dashboard.SetCustomerBlocked(id, req.Blocked); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": req.Blocked})
}

func (h *Handler) Broadcast(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !ValidText(req.Text) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	sent, err := h.dashboard.Broadcast(req.Text)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": sent})
}

// SendTestMessage bypasses the state machine entirely.
func (h *Handler) SendTestMessage(c *gin.Context) {
	var req struct {
		Address string `json:"address"`
		Text    string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !ValidAddress(req.Address) || !ValidText(req.Text) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address and text are required"})
		return
	}
	if err := h.dispatcher.SendTestMessage(req.Address, req.Text); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

// GetQRCode returns the WhatsApp pairing QR as PNG.
func (h *Handler) GetQRCode(c *gin.Context) {
	if h.waClient == nil {
		c.String(http.StatusServiceUnavailable, "WhatsApp not configured")
		return
	}

	qrCodeString := h.waClient.GetQR()
	if qrCodeString == "" {
		if h.waClient.IsLoggedIn() {
			c.String(http.StatusOK, "Already logged in")
			return
		}
		c.String(http.StatusAccepted, "QR code not yet available. Please wait...")
		return
	}

	png, err := qrcode.Encode(qrCodeString, qrcode.Medium, 256)
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to generate QR code")
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) GetWhatsAppStatus(c *gin.Context) {
	if h.waClient == nil {
		c.JSON(http.StatusOK, gin.H{"connected": false})
		return
	}
	phone, name := h.waClient.GetUserInfo()
	c.JSON(http.StatusOK, gin.H{
		"connected": h.waClient.IsConnected(),
		"phone":     phone,
		"name":      name,
		"hasQR":     h.waClient.GetQR() != "",
	})
}
