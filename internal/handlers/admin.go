package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"jms/internal/backup"
	"jms/internal/database"
	"jms/internal/logger"
	"jms/internal/middleware"
	"jms/internal/models"
)

const exportTimeLayout = "20060102_150405"

func (h *Handler) handleAdminStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := h.store.GetAdminStats(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	keys, err := h.store.MasterKeyStats(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	next, err := h.store.PeekBarcode(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats, "master_keys": keys, "next_barcode": next})
}

func (h *Handler) handleListBackups(c *gin.Context) {
	backups, err := h.backups.ListBackups()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, backups)
}

func (h *Handler) handleCreateBackup(c *gin.Context) {
	path, err := h.backups.Backup(c.Request.Context())
	h.metrics.BackupOperation("backup", err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"path": path, "name": filepath.Base(path)})
}

// fileInDir resolves a bare file name inside dir. Names with path
// components are rejected.
func fileInDir(dir, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: invalid file name %q", database.ErrValidation, name)
	}
	return filepath.Join(dir, name), nil
}

func (h *Handler) handleRestore(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	path, err := fileInDir(h.backups.BackupDir(), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := os.Stat(path); err != nil {
		respondError(c, fmt.Errorf("%w: backup %s", database.ErrNotFound, req.Name))
		return
	}

	err = h.backups.Restore(c.Request.Context(), path)
	h.metrics.BackupOperation("restore", err)
	if err != nil {
		respondError(c, err)
		return
	}

	if h.mail.IsEnabled() {
		if err := h.mail.SendRestoreAlert(req.Name, middleware.CurrentUser(c).Username, time.Now()); err != nil {
			logger.Warn("Failed to send restore alert", "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Database restored", "name": req.Name})
}

type exportRequest struct {
	Format   string `json:"format"`
	FileName string `json:"file_name"`
}

func (h *Handler) handleExport(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	if req.Format == "" {
		req.Format = "json"
	}
	if req.FileName == "" {
		req.FileName = fmt.Sprintf("export_%s.%s", time.Now().Format(exportTimeLayout), req.Format)
	}
	path, err := fileInDir(h.cfg.ExportDir, req.FileName)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	switch req.Format {
	case "json":
		info, err := h.backups.ExportJSON(ctx, path)
		h.metrics.BackupOperation("export", err)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"path": path, "migration_info": info})
	case "csv":
		files, err := h.backups.ExportCSV(ctx, path)
		h.metrics.BackupOperation("export", err)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"files": files})
	default:
		badRequest(c, "Format must be json or csv")
	}
}

// handleImport accepts either an uploaded JSON export (multipart field
// "file") or the name of an export already in the export directory.
func (h *Handler) handleImport(c *gin.Context) {
	var req struct {
		Format   string `json:"format" form:"format"`
		FileName string `json:"file_name" form:"file_name"`
		Policy   string `json:"policy" form:"policy"`
	}
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	manager := h.backups
	if req.Policy != "" {
		policy, err := backup.ParsePolicy(req.Policy)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		manager = manager.WithPolicy(policy)
	}

	var path string
	if file, err := c.FormFile("file"); err == nil {
		uploads := filepath.Join(h.cfg.ExportDir, "uploads")
		if err := os.MkdirAll(uploads, 0o755); err != nil {
			respondError(c, err)
			return
		}
		path = filepath.Join(uploads, fmt.Sprintf("%s_%s", time.Now().Format(exportTimeLayout), filepath.Base(file.Filename)))
		if err := c.SaveUploadedFile(file, path); err != nil {
			respondError(c, err)
			return
		}
		req.Format = "json"
	} else {
		path, err = fileInDir(h.cfg.ExportDir, req.FileName)
		if err != nil {
			respondError(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	var (
		report *backup.ImportReport
		err    error
	)
	switch req.Format {
	case "", "json":
		report, err = manager.ImportJSON(ctx, path)
	case "csv":
		report, err = manager.ImportCSV(ctx, path)
	default:
		badRequest(c, "Format must be json or csv")
		return
	}
	h.metrics.BackupOperation("import", err)
	if report != nil {
		ok, skipped := 0, 0
		for _, t := range report.Tables {
			switch {
			case t.Skipped:
				skipped++
			case t.Error == "":
				ok++
			}
		}
		h.metrics.TablesImported(ok, len(report.Failed()), skipped)
	}
	if err != nil {
		if report != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "report": report})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) handleListUsers(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) handleCreateUser(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}

	user, err := h.store.AddUser(c.Request.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) handleListMasterKeys(c *gin.Context) {
	ctx := c.Request.Context()
	keys, err := h.store.ListMasterKeys(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	stats, err := h.store.MasterKeyStats(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "stats": stats})
}

func (h *Handler) handleGenerateMasterKeys(c *gin.Context) {
	var req struct {
		Count int `json:"count"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	keys, err := h.store.GenerateMasterKeys(c.Request.Context(), req.Count)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"keys": keys})
}

func (h *Handler) handleResetBarcodes(c *gin.Context) {
	var req struct {
		Next int64 `json:"next"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	if err := h.store.ResetBarcodeSequence(c.Request.Context(), req.Next); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"next": req.Next})
}

const factoryResetConfirmation = "RESET"

// handleFactoryReset takes a backup before wiping everything.
func (h *Handler) handleFactoryReset(c *gin.Context) {
	var req struct {
		Confirm string `json:"confirm"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Confirm != factoryResetConfirmation {
		badRequest(c, fmt.Sprintf("Send {\"confirm\": %q} to wipe all data", factoryResetConfirmation))
		return
	}

	ctx := c.Request.Context()
	path, err := h.backups.Backup(ctx)
	h.metrics.BackupOperation("backup", err)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.store.FactoryReset(ctx); err != nil {
		respondError(c, err)
		return
	}

	logger.Warn("Factory reset performed", "username", middleware.CurrentUser(c).Username, "backup", path)
	c.JSON(http.StatusOK, gin.H{"message": "All data removed", "backup": filepath.Base(path)})
}
