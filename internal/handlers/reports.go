package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"jms/internal/reports"
)

const dateLayout = "2006-01-02"

// dateRange reads ?from= and ?to= as local dates. The to bound covers the
// whole day.
func dateRange(c *gin.Context) (time.Time, time.Time, error) {
	var from, to time.Time
	if v := c.Query("from"); v != "" {
		t, err := time.ParseInLocation(dateLayout, v, time.Local)
		if err != nil {
			return from, to, fmt.Errorf("invalid from date %q", v)
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.ParseInLocation(dateLayout, v, time.Local)
		if err != nil {
			return from, to, fmt.Errorf("invalid to date %q", v)
		}
		to = t.Add(24*time.Hour - time.Second)
	}
	return from, to, nil
}

func wantsCSV(c *gin.Context) bool {
	return c.Query("format") == "csv"
}

func sendCSV(c *gin.Context, name string, columns []string, rows [][]interface{}) {
	var buf bytes.Buffer
	if err := reports.WriteCSV(&buf, columns, rows); err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, name))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *Handler) handleSalesReport(c *gin.Context) {
	from, to, err := dateRange(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	sales, err := h.store.SalesReport(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sales)
}

func (h *Handler) handleInventoryReport(c *gin.Context) {
	report, err := h.reports.InventoryReport(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if wantsCSV(c) {
		sendCSV(c, "inventory", report.Columns, report.Rows)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) handleLowStockReport(c *gin.Context) {
	threshold := h.cfg.LowStockThreshold
	if v := c.Query("threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(c, "Invalid threshold")
			return
		}
		threshold = n
	}

	levels, err := h.reports.LowStock(c.Request.Context(), threshold)
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("notify") == "true" && h.mail.IsEnabled() {
		if err := h.mail.SendLowStockDigest(threshold, levels); err != nil {
			respondError(c, err)
			return
		}
	}

	if wantsCSV(c) {
		columns, rows := reports.LowStockRows(levels)
		sendCSV(c, "low_stock", columns, rows)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threshold": threshold, "items": levels})
}

func (h *Handler) handleValueReport(c *gin.Context) {
	report, err := h.reports.Value(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) handleProfitReport(c *gin.Context) {
	from, to, err := dateRange(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	report, err := h.reports.Profit(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	if wantsCSV(c) {
		columns, rows := report.Rows()
		sendCSV(c, "profit", columns, rows)
		return
	}
	c.JSON(http.StatusOK, report)
}
