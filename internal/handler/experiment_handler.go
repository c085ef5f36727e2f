package handler

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"reactor-lab/internal/config"
	"reactor-lab/internal/model"
	"reactor-lab/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var allowedExtensions = map[string]bool{
	".tsv":  true,
	".txt":  true,
	".xlsx": true,
}

type ExperimentHandler struct {
	cfg       *config.Config
	lifecycle *service.LifecycleManager
}

func NewExperimentHandler(cfg *config.Config, lifecycle *service.LifecycleManager) *ExperimentHandler {
	return &ExperimentHandler{cfg: cfg, lifecycle: lifecycle}
}

// Upload stores the time-series file and queues a pending experiment.
func (h *ExperimentHandler) Upload(c *gin.Context) {
	name := c.PostForm("experiment_name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "experiment name is required"})
		return
	}

	file, err := c.FormFile("tsv_file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "TSV file is required"})
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only .tsv, .txt or .xlsx files are allowed"})
		return
	}
	if maxBytes := h.cfg.MaxUploadBytes(); file.Size > maxBytes {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("file too large: maximum %dMB, got %dMB", maxBytes/(1024*1024), file.Size/(1024*1024)),
		})
		return
	}

	if err := os.MkdirAll(h.cfg.Upload.Dir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	storedPath := filepath.Join(h.cfg.Upload.Dir, uuid.NewString()+ext)
	if err := c.SaveUploadedFile(file, storedPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to save file: %v", err)})
		return
	}

	params, err := parseParameters(c)
	if err != nil {
		_ = os.Remove(storedPath)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	exp, err := h.lifecycle.Create(UserID(c), name, storedPath, params)
	if err != nil {
		// Do not leave an orphaned upload behind.
		_ = os.Remove(storedPath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Printf("experiment %d (%s) uploaded by user %d", exp.ID, exp.Name, exp.UserID)
	c.JSON(http.StatusOK, gin.H{
		"experiment_id":   exp.ID,
		"experiment_name": exp.Name,
		"status":          exp.Status,
		"message":         "Experiment uploaded successfully and queued for processing",
	})
}

// List returns the caller's experiments, newest first.
func (h *ExperimentHandler) List(c *gin.Context) {
	exps, err := h.lifecycle.ListByOwner(UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"experiments": exps})
}

// Get returns one experiment with its parameters and, when completed, the
// results.
func (h *ExperimentHandler) Get(c *gin.Context) {
	exp, ok := h.ownedExperiment(c)
	if !ok {
		return
	}

	params, err := exp.Parameters()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	results := service.Results{}
	if exp.Status == model.StatusCompleted {
		results, err = h.lifecycle.ResultsOf(exp.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"experiment": exp,
		"parameters": params,
		"results":    results,
	})
}

// Results returns the stored result series of a completed experiment.
func (h *ExperimentHandler) Results(c *gin.Context) {
	exp, ok := h.ownedExperiment(c)
	if !ok {
		return
	}
	if exp.Status != model.StatusCompleted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "experiment is not completed yet"})
		return
	}

	results, err := h.lifecycle.ResultsOf(exp.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"experiment_id": exp.ID,
		"results":       results,
	})
}

// Retry asks the lifecycle manager to requeue a failed experiment.
func (h *ExperimentHandler) Retry(c *gin.Context) {
	id, ok := experimentID(c)
	if !ok {
		return
	}

	err := h.lifecycle.Retry(id, UserID(c))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"experiment_id": id,
			"message":       "Experiment reset to pending for retry",
		})
	case errors.Is(err, service.ErrExperimentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "experiment not found"})
	case errors.Is(err, service.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, service.ErrNotRetryable):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *ExperimentHandler) ownedExperiment(c *gin.Context) (*model.Experiment, bool) {
	id, ok := experimentID(c)
	if !ok {
		return nil, false
	}
	exp, err := h.lifecycle.Get(id)
	if errors.Is(err, service.ErrExperimentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "experiment not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if exp.UserID != UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return nil, false
	}
	return exp, true
}

func experimentID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid experiment id"})
		return 0, false
	}
	return uint(id), true
}

// parseParameters reads the optional simulation parameter form fields.
func parseParameters(c *gin.Context) (model.Parameters, error) {
	var params model.Parameters

	floatField := func(name string, dst **float64) error {
		raw := c.PostForm(name)
		if raw == "" {
			return nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %q", name, raw)
		}
		*dst = &v
		return nil
	}
	pairField := func(name1, name2 string, dst **[2]float64) error {
		raw1, raw2 := c.PostForm(name1), c.PostForm(name2)
		if raw1 == "" || raw2 == "" {
			return nil
		}
		v1, err := strconv.ParseFloat(raw1, 64)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %q", name1, raw1)
		}
		v2, err := strconv.ParseFloat(raw2, 64)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %q", name2, raw2)
		}
		pair := [2]float64{v1, v2}
		*dst = &pair
		return nil
	}

	if err := floatField("t_add", &params.TAdd); err != nil {
		return params, err
	}
	if err := pairField("t_span_start", "t_span_end", &params.TSpan); err != nil {
		return params, err
	}
	if err := floatField("dt", &params.Dt); err != nil {
		return params, err
	}
	if err := pairField("f_j1", "f_j2", &params.AdjFactor); err != nil {
		return params, err
	}

	initial := []struct {
		name string
		dst  **float64
	}{
		{"L_0i", &params.L0i},
		{"CVAM_r0i", &params.CVAM0i},
		{"CBA_r0i", &params.CBA0i},
		{"CNaPS_r0i", &params.CNaPS0i},
		{"CTBHP_r0i", &params.CTBHP0i},
		{"CCRD_r0i", &params.CCRD0i},
		{"CMPOL_r0i", &params.CMPOL0i},
		{"Np_r0i", &params.Np0i},
		{"T1_0i", &params.T10i},
		{"T3_0i", &params.T30i},
	}
	for _, f := range initial {
		if err := floatField(f.name, f.dst); err != nil {
			return params, err
		}
	}

	return params, nil
}
