package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jms/internal/database"
	"jms/internal/metrics"
)

type shopRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleListShops(c *gin.Context) {
	shops, err := h.store.ListShops(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, shops)
}

func (h *Handler) handleCreateShop(c *gin.Context) {
	var req shopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid shop")
		return
	}
	shop, err := h.store.AddShop(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, shop)
}

func (h *Handler) handleRenameShop(c *gin.Context) {
	var req shopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid shop")
		return
	}
	if err := h.store.RenameShop(c.Request.Context(), c.Param("shop"), req.Name); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": req.Name})
}

func (h *Handler) handleDeleteShop(c *gin.Context) {
	if err := h.store.DeleteShop(c.Request.Context(), c.Param("shop")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) handleShopItems(c *gin.Context) {
	items, err := h.store.GetShopItems(c.Request.Context(), c.Param("shop"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) bindQuantity(c *gin.Context) (quantityRequest, bool) {
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return req, false
	}
	return req, true
}

// respondShopItem answers a stock movement with the shop's resulting row.
func (h *Handler) respondShopItem(c *gin.Context, shop, barcode string) {
	item, err := h.store.GetShopItem(c.Request.Context(), shop, barcode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) handleAddShopItem(c *gin.Context) {
	req, ok := h.bindQuantity(c)
	if !ok {
		return
	}
	shop := c.Param("shop")
	if err := h.store.AddItemToShop(c.Request.Context(), shop, req.Barcode, req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	h.metrics.StockMoved(metrics.MoveAdjust, req.Quantity)
	h.respondShopItem(c, shop, req.Barcode)
}

func (h *Handler) handleSetShopItemQuantity(c *gin.Context) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid quantity")
		return
	}
	shop, barcode := c.Param("shop"), c.Param("barcode")
	if err := h.store.SetShopItemQuantity(c.Request.Context(), shop, barcode, req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	h.metrics.StockMoved(metrics.MoveAdjust, req.Quantity)
	h.respondShopItem(c, shop, barcode)
}

func (h *Handler) handleRemoveShopItem(c *gin.Context) {
	if err := h.store.RemoveItemFromShop(c.Request.Context(), c.Param("shop"), c.Param("barcode")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) handleMoveToShop(c *gin.Context) {
	req, ok := h.bindQuantity(c)
	if !ok {
		return
	}
	shop := c.Param("shop")
	if err := h.store.MoveItemToShop(c.Request.Context(), shop, req.Barcode, req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	h.metrics.StockMoved(metrics.MoveToShop, req.Quantity)
	h.respondShopItem(c, shop, req.Barcode)
}

func (h *Handler) handleReturnToWarehouse(c *gin.Context) {
	req, ok := h.bindQuantity(c)
	if !ok {
		return
	}
	shop := c.Param("shop")
	if err := h.store.ReturnItemToWarehouse(c.Request.Context(), shop, req.Barcode, req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	h.metrics.StockMoved(metrics.MoveToWarehouse, req.Quantity)
	h.respondShopItem(c, shop, req.Barcode)
}

func (h *Handler) handleTransferBetweenShops(c *gin.Context) {
	var req struct {
		quantityRequest
		To string `json:"to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	if err := h.store.TransferBetweenShops(c.Request.Context(), c.Param("shop"), req.To, req.Barcode, req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	h.metrics.StockMoved(metrics.MoveBetween, req.Quantity)
	h.respondShopItem(c, req.To, req.Barcode)
}

func (h *Handler) handleShopSale(c *gin.Context) {
	var req saleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid sale: "+err.Error())
		return
	}
	sale, err := h.store.SellFromShop(c.Request.Context(), c.Param("shop"), req.Barcode, req.Quantity, req.TotalPrice)
	if err != nil {
		respondError(c, err)
		return
	}
	h.metrics.SaleRecorded("shop", req.Quantity)
	c.JSON(http.StatusCreated, sale)
}

type auditRequest struct {
	Start   time.Time      `json:"start"`
	End     time.Time      `json:"end"`
	Scanned map[string]int `json:"scanned"`
}

// handleCreateAudit evaluates scanned counts against the shop's current
// stock and stores the finished session.
func (h *Handler) handleCreateAudit(c *gin.Context) {
	var req auditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid audit: "+err.Error())
		return
	}
	if req.End.IsZero() {
		req.End = time.Now()
	}
	if req.Start.IsZero() {
		req.Start = req.End
	}

	ctx := c.Request.Context()
	shop := c.Param("shop")
	expected, err := h.store.GetShopItems(ctx, shop)
	if err != nil {
		respondError(c, err)
		return
	}

	results := database.EvaluateAudit(expected, req.Scanned)
	session, err := h.store.SaveAuditSession(ctx, database.AuditInput{
		ShopName: shop,
		Start:    req.Start.Local(),
		End:      req.End.Local(),
		Results:  results,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session, "results": results})
}

func (h *Handler) handleListAudits(c *gin.Context) {
	sessions, err := h.store.ListAuditSessions(c.Request.Context(), c.Param("shop"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handler) handleAuditResults(c *gin.Context) {
	results, err := h.store.GetAuditResults(c.Request.Context(), c.Param("session"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}
