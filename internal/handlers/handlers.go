package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"jms/internal/backup"
	"jms/internal/config"
	"jms/internal/database"
	"jms/internal/email"
	"jms/internal/logger"
	"jms/internal/metrics"
	"jms/internal/middleware"
	"jms/internal/reports"
)

type Handler struct {
	cfg     *config.Config
	store   *database.Store
	backups *backup.Manager
	reports *reports.Service
	mail    *email.Service
	metrics *metrics.Metrics
}

func New(cfg *config.Config, store *database.Store, backups *backup.Manager, mail *email.Service, m *metrics.Metrics) *Handler {
	return &Handler{
		cfg:     cfg,
		store:   store,
		backups: backups,
		reports: reports.NewService(store),
		mail:    mail,
		metrics: m,
	}
}

func (h *Handler) SetupRoutes(r *gin.Engine) {
	r.Use(middleware.RequestID())
	r.Use(middleware.LogRequests())
	r.Use(middleware.SecurityHeaders(h.cfg))
	r.Use(middleware.CORS(h.cfg.AllowedOrigins))
	r.Use(h.metrics.Middleware())
	r.Use(middleware.RateLimit(h.cfg))

	r.GET("/health", h.handleHealth)
	if h.cfg.Metrics.Enabled {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	r.POST("/api/recovery", middleware.AuthRateLimit(h.cfg), h.handleRecovery)

	api := r.Group("/api")
	api.Use(middleware.BasicAuth(h.store))
	{
		api.GET("/items", h.handleListItems)
		api.POST("/items", h.handleCreateItem)
		api.GET("/items/barcode/:barcode", h.handleGetItemByBarcode)
		api.GET("/items/:id", h.handleGetItem)
		api.PATCH("/items/:id", h.handleUpdateItem)
		api.DELETE("/items/:id", h.handleDeleteItem)
		api.POST("/items/:id/sales", h.handleWarehouseSale)

		api.POST("/barcodes", h.handleNextBarcode)
		api.GET("/barcodes/next", h.handlePeekBarcode)

		api.GET("/custom-values/:type", h.handleListCustomValues)
		api.POST("/custom-values/:type", h.handleAddCustomValue)
		api.DELETE("/custom-values/:type/:value", h.handleDeleteCustomValue)

		api.GET("/shops", h.handleListShops)
		api.POST("/shops", h.handleCreateShop)
		api.PUT("/shops/:shop", h.handleRenameShop)
		api.DELETE("/shops/:shop", h.handleDeleteShop)
		api.GET("/shops/:shop/items", h.handleShopItems)
		api.POST("/shops/:shop/items", h.handleAddShopItem)
		api.PUT("/shops/:shop/items/:barcode", h.handleSetShopItemQuantity)
		api.DELETE("/shops/:shop/items/:barcode", h.handleRemoveShopItem)
		api.POST("/shops/:shop/transfers", h.handleMoveToShop)
		api.POST("/shops/:shop/returns", h.handleReturnToWarehouse)
		api.POST("/shops/:shop/moves", h.handleTransferBetweenShops)
		api.POST("/shops/:shop/sales", h.handleShopSale)
		api.GET("/shops/:shop/audits", h.handleListAudits)
		api.POST("/shops/:shop/audits", h.handleCreateAudit)
		api.GET("/audits/:session", h.handleAuditResults)

		api.GET("/sales", h.handleSalesReport)
		api.GET("/reports/inventory", h.handleInventoryReport)
		api.GET("/reports/low-stock", h.handleLowStockReport)
		api.GET("/reports/value", h.handleValueReport)
		api.GET("/reports/profit", h.handleProfitReport)

		api.POST("/account/password", middleware.AuthRateLimit(h.cfg), h.handleChangePassword)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AdminRequired())
	{
		admin.GET("/stats", h.handleAdminStats)
		admin.GET("/backups", h.handleListBackups)
		admin.POST("/backups", h.handleCreateBackup)
		admin.POST("/restore", h.handleRestore)
		admin.POST("/export", h.handleExport)
		admin.POST("/import", h.handleImport)
		admin.GET("/users", h.handleListUsers)
		admin.POST("/users", h.handleCreateUser)
		admin.GET("/master-keys", h.handleListMasterKeys)
		admin.POST("/master-keys", h.handleGenerateMasterKeys)
		admin.PUT("/barcodes", h.handleResetBarcodes)
		admin.POST("/factory-reset", h.handleFactoryReset)
	}
}

func (h *Handler) handleHealth(c *gin.Context) {
	if err := h.store.DB().PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps the store's error kinds onto HTTP statuses. Anything
// else is logged and hidden behind a 500.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, database.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, database.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, database.ErrInsufficientStock):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, database.ErrUnauthorized):
		status = http.StatusUnauthorized
	}

	if status == http.StatusInternalServerError {
		logger.Error("Request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid "+name)
		return 0, false
	}
	return id, true
}

// quantityRequest is the body of every stock movement.
type quantityRequest struct {
	Barcode  string `json:"barcode"`
	Quantity int    `json:"quantity"`
}
