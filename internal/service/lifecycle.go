package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reactor-lab/internal/config"
	"reactor-lab/internal/db"
	"reactor-lab/internal/model"

	"gorm.io/gorm"
)

var (
	ErrExperimentNotFound = errors.New("experiment not found")
	ErrNotOwner           = errors.New("experiment belongs to another user")
	ErrNotRetryable       = errors.New("experiment cannot be retried")
)

// Results are the named output series produced by one simulation, stored as
// one row per result type.
type Results map[string]any

// LifecycleManager owns every status transition of an experiment. Handlers
// and the dispatcher never write status, tries, timestamps, error_message or
// results directly.
type LifecycleManager struct {
	maxTries int
	timeout  time.Duration
}

func NewLifecycleManager(cfg *config.Config) *LifecycleManager {
	return &LifecycleManager{
		maxTries: cfg.Queue.MaxTries,
		timeout:  cfg.ExperimentTimeout(),
	}
}

func (m *LifecycleManager) MaxTries() int { return m.maxTries }

// Create registers a new experiment in pending state.
func (m *LifecycleManager) Create(ownerID uint, name, seriesPath string, params model.Parameters) (*model.Experiment, error) {
	paramsJSON, err := params.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	exp := &model.Experiment{
		UserID:     ownerID,
		Name:       name,
		SeriesPath: seriesPath,
		Status:     model.StatusPending,
		ParamsJSON: paramsJSON,
	}
	if err := db.DB.Create(exp).Error; err != nil {
		return nil, fmt.Errorf("create experiment: %w", err)
	}
	return exp, nil
}

func (m *LifecycleManager) Get(id uint) (*model.Experiment, error) {
	var exp model.Experiment
	if err := db.DB.First(&exp, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrExperimentNotFound
		}
		return nil, fmt.Errorf("look up experiment: %w", err)
	}
	return &exp, nil
}

// ListByOwner returns the owner's experiments, newest first.
func (m *LifecycleManager) ListByOwner(ownerID uint) ([]model.Experiment, error) {
	var exps []model.Experiment
	if err := db.DB.Where("user_id = ?", ownerID).Order("created_at DESC, id DESC").Find(&exps).Error; err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return exps, nil
}

// PendingFIFO returns all pending experiments, oldest first. Processing
// order is FIFO to bound starvation.
func (m *LifecycleManager) PendingFIFO() ([]model.Experiment, error) {
	var exps []model.Experiment
	if err := db.DB.Where("status = ?", model.StatusPending).Order("created_at ASC, id ASC").Find(&exps).Error; err != nil {
		return nil, fmt.Errorf("list pending experiments: %w", err)
	}
	return exps, nil
}

// Claim attempts the pending → running transition. The update is
// conditional on the row still being pending, so of several racing
// claimants exactly one sees claimed == true.
func (m *LifecycleManager) Claim(id uint) (bool, error) {
	now := time.Now()
	res := db.DB.Model(&model.Experiment{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Updates(map[string]any{
			"status":     model.StatusRunning,
			"started_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim experiment %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Complete records a successful run: stores the result rows and moves the
// experiment to completed. Only the claim holder may call this.
func (m *LifecycleManager) Complete(id uint, results Results) error {
	return db.DB.Transaction(func(tx *gorm.DB) error {
		for resultType, data := range results {
			encoded, err := json.Marshal(data)
			if err != nil {
				return fmt.Errorf("encode result %q: %w", resultType, err)
			}
			row := &model.ExperimentResult{
				ExperimentID: id,
				ResultType:   resultType,
				ResultData:   string(encoded),
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("store result %q: %w", resultType, err)
			}
		}
		now := time.Now()
		return tx.Model(&model.Experiment{}).Where("id = ?", id).Updates(map[string]any{
			"status":        model.StatusCompleted,
			"completed_at":  now,
			"error_message": "",
		}).Error
	})
}

// Fail records a failed attempt: the try counter goes up by one and the
// experiment lands in failed, or failed_permanently once the budget is
// spent. Only the claim holder may call this.
func (m *LifecycleManager) Fail(id uint, message string) error {
	return db.DB.Transaction(func(tx *gorm.DB) error {
		var exp model.Experiment
		if err := tx.First(&exp, id).Error; err != nil {
			return fmt.Errorf("look up experiment %d: %w", id, err)
		}

		tries := exp.Tries + 1
		status := model.StatusFailed
		updates := map[string]any{
			"status":        status,
			"tries":         tries,
			"started_at":    nil,
			"error_message": message,
		}
		if tries >= m.maxTries {
			updates["status"] = model.StatusFailedPermanently
			updates["completed_at"] = time.Now()
		}

		if err := tx.Where("experiment_id = ?", id).Delete(&model.ExperimentResult{}).Error; err != nil {
			return fmt.Errorf("clear results of experiment %d: %w", id, err)
		}
		return tx.Model(&model.Experiment{}).Where("id = ?", id).Updates(updates).Error
	})
}

// ReclaimTimedOut sweeps experiments stuck in running past the timeout. A
// timeout spends one try like any other failed attempt: the experiment goes
// back to pending for a re-claim, or to failed_permanently when the budget
// is gone. Returns how many rows were reclaimed.
func (m *LifecycleManager) ReclaimTimedOut() (int64, error) {
	cutoff := time.Now().Add(-m.timeout)
	var reclaimed int64

	err := db.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Experiment{}).
			Where("status = ? AND started_at < ? AND tries >= ?", model.StatusRunning, cutoff, m.maxTries-1).
			Updates(map[string]any{
				"status":        model.StatusFailedPermanently,
				"tries":         gorm.Expr("tries + 1"),
				"started_at":    nil,
				"completed_at":  time.Now(),
				"error_message": fmt.Sprintf("experiment timed out after %d attempts", m.maxTries),
			})
		if res.Error != nil {
			return fmt.Errorf("mark timed-out experiments permanently failed: %w", res.Error)
		}
		reclaimed += res.RowsAffected

		res = tx.Model(&model.Experiment{}).
			Where("status = ? AND started_at < ?", model.StatusRunning, cutoff).
			Updates(map[string]any{
				"status":        model.StatusPending,
				"tries":         gorm.Expr("tries + 1"),
				"started_at":    nil,
				"error_message": "",
			})
		if res.Error != nil {
			return fmt.Errorf("requeue timed-out experiments: %w", res.Error)
		}
		reclaimed += res.RowsAffected
		return nil
	})
	return reclaimed, err
}

// Retry moves a failed experiment back to pending on behalf of its owner.
// The try counter is kept; the retry only buys another pass through the
// remaining budget. Any other state is rejected without mutation.
func (m *LifecycleManager) Retry(id, requesterID uint) error {
	exp, err := m.Get(id)
	if err != nil {
		return err
	}
	if exp.UserID != requesterID {
		return ErrNotOwner
	}

	switch exp.Status {
	case model.StatusFailed:
		return db.DB.Model(&model.Experiment{}).Where("id = ?", id).Updates(map[string]any{
			"status":        model.StatusPending,
			"error_message": "",
		}).Error
	case model.StatusFailedPermanently:
		return fmt.Errorf("%w: permanently failed", ErrNotRetryable)
	case model.StatusCompleted:
		return fmt.Errorf("%w: already completed", ErrNotRetryable)
	case model.StatusRunning:
		return fmt.Errorf("%w: currently running", ErrNotRetryable)
	default:
		return fmt.Errorf("%w: status is %s", ErrNotRetryable, exp.Status)
	}
}

// ResultsOf loads the stored result rows of an experiment, decoded by type.
func (m *LifecycleManager) ResultsOf(id uint) (Results, error) {
	var rows []model.ExperimentResult
	if err := db.DB.Where("experiment_id = ?", id).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	results := Results{}
	for _, row := range rows {
		var data any
		if err := json.Unmarshal([]byte(row.ResultData), &data); err != nil {
			data = row.ResultData
		}
		results[row.ResultType] = data
	}
	return results, nil
}
