package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"jms/internal/models"
)

func (h *Handler) handleListItems(c *gin.Context) {
	var (
		items []models.Item
		err   error
	)
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		items, err = h.store.SearchItems(c.Request.Context(), q)
	} else {
		items, err = h.store.ListItems(c.Request.Context())
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) handleGetItem(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	item, err := h.store.GetItem(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) handleGetItemByBarcode(c *gin.Context) {
	item, err := h.store.GetItemByBarcode(c.Request.Context(), c.Param("barcode"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type createItemRequest struct {
	Barcode       string  `json:"barcode"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Category      string  `json:"category"`
	Price         float64 `json:"price"`
	Cost          float64 `json:"cost"`
	Weight        float64 `json:"weight"`
	MetalType     string  `json:"metal_type"`
	StoneType     string  `json:"stone_type"`
	StockQuantity int     `json:"stock_quantity"`
}

// handleCreateItem allocates a barcode when the request leaves it empty.
func (h *Handler) handleCreateItem(c *gin.Context) {
	var req createItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid item: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	if strings.TrimSpace(req.Barcode) == "" {
		barcode, err := h.store.NextBarcode(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		h.metrics.BarcodeAllocated()
		req.Barcode = barcode
	}

	item, err := h.store.CreateItem(ctx, models.Item{
		Barcode:       req.Barcode,
		Name:          req.Name,
		Description:   req.Description,
		Category:      req.Category,
		Price:         req.Price,
		Cost:          req.Cost,
		Weight:        req.Weight,
		MetalType:     req.MetalType,
		StoneType:     req.StoneType,
		StockQuantity: req.StockQuantity,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// handleUpdateItem rejects fields that are not item attributes instead of
// silently ignoring them.
func (h *Handler) handleUpdateItem(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "Failed to read request body")
		return
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var update models.ItemUpdate
	if err := dec.Decode(&update); err != nil {
		badRequest(c, "Invalid update: "+err.Error())
		return
	}

	item, err := h.store.UpdateItem(c.Request.Context(), id, update)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) handleDeleteItem(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteItem(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type saleRequest struct {
	Barcode    string  `json:"barcode"`
	Quantity   int     `json:"quantity"`
	TotalPrice float64 `json:"total_price"`
}

func (h *Handler) handleWarehouseSale(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req saleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid sale: "+err.Error())
		return
	}

	sale, err := h.store.AddSale(c.Request.Context(), id, req.Quantity, req.TotalPrice)
	if err != nil {
		respondError(c, err)
		return
	}
	h.metrics.SaleRecorded("warehouse", req.Quantity)
	c.JSON(http.StatusCreated, sale)
}

func (h *Handler) handleNextBarcode(c *gin.Context) {
	barcode, err := h.store.NextBarcode(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	h.metrics.BarcodeAllocated()
	c.JSON(http.StatusCreated, gin.H{"barcode": barcode})
}

func (h *Handler) handlePeekBarcode(c *gin.Context) {
	next, err := h.store.PeekBarcode(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"next": next})
}

func (h *Handler) handleListCustomValues(c *gin.Context) {
	values, err := h.store.ListCustomValues(c.Request.Context(), c.Param("type"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, values)
}

func (h *Handler) handleAddCustomValue(c *gin.Context) {
	var req struct {
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid value")
		return
	}
	if err := h.store.AddCustomValue(c.Request.Context(), c.Param("type"), req.Value); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"type": c.Param("type"), "value": req.Value})
}

func (h *Handler) handleDeleteCustomValue(c *gin.Context) {
	if err := h.store.DeleteCustomValue(c.Request.Context(), c.Param("type"), c.Param("value")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
