package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jms/internal/config"
)

// Stock movement kinds.
const (
	MoveToShop      = "to_shop"
	MoveToWarehouse = "to_warehouse"
	MoveBetween     = "between_shops"
	MoveAdjust      = "adjust"
)

type Metrics struct {
	registry    *prometheus.Registry
	httpReqCnt  *prometheus.CounterVec
	httpDur     *prometheus.HistogramVec
	httpInfl    *prometheus.GaugeVec
	stockMoves  *prometheus.CounterVec
	stockUnits  *prometheus.CounterVec
	sales       *prometheus.CounterVec
	salesUnits  prometheus.Counter
	barcodes    prometheus.Counter
	importTbls  *prometheus.CounterVec
	backupOps   *prometheus.CounterVec
	lastBackup  prometheus.Gauge
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: buckets}, []string{"method", "route", "status"})
	httpInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(httpReqCnt, httpDur, httpInfl)

	stockMoves := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "stock_movements_total"}, []string{"kind"})
	stockUnits := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "stock_units_moved_total"}, []string{"kind"})
	sales := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "sales_total"}, []string{"source"})
	salesUnits := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "sales_units_total"})
	barcodes := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "barcodes_allocated_total"})
	r.MustRegister(stockMoves, stockUnits, sales, salesUnits, barcodes)

	importTbls := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "import_tables_total"}, []string{"status"})
	backupOps := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "backup_operations_total"}, []string{"operation", "status"})
	lastBackup := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "last_backup_timestamp_seconds"})
	r.MustRegister(importTbls, backupOps, lastBackup)

	return &Metrics{
		registry:   r,
		httpReqCnt: httpReqCnt,
		httpDur:    httpDur,
		httpInfl:   httpInfl,
		stockMoves: stockMoves,
		stockUnits: stockUnits,
		sales:      sales,
		salesUnits: salesUnits,
		barcodes:   barcodes,
		importTbls: importTbls,
		backupOps:  backupOps,
		lastBackup: lastBackup,
	}
}

func (m *Metrics) StockMoved(kind string, units int) {
	m.stockMoves.WithLabelValues(kind).Inc()
	m.stockUnits.WithLabelValues(kind).Add(float64(units))
}

// SaleRecorded counts a sale; source is "warehouse" or "shop".
func (m *Metrics) SaleRecorded(source string, units int) {
	m.sales.WithLabelValues(source).Inc()
	m.salesUnits.Add(float64(units))
}

func (m *Metrics) BarcodeAllocated() {
	m.barcodes.Inc()
}

func (m *Metrics) TablesImported(ok, failed, skipped int) {
	m.importTbls.WithLabelValues("ok").Add(float64(ok))
	m.importTbls.WithLabelValues("failed").Add(float64(failed))
	m.importTbls.WithLabelValues("skipped").Add(float64(skipped))
}

// BackupOperation counts backup, restore, export and import runs.
func (m *Metrics) BackupOperation(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.backupOps.WithLabelValues(op, status).Inc()
	if op == "backup" && err == nil {
		m.lastBackup.SetToCurrentTime()
	}
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
