package model

import (
	"encoding/json"
	"time"
)

// ExperimentStatus is the lifecycle state of an experiment job.
type ExperimentStatus string

const (
	StatusPending           ExperimentStatus = "pending"
	StatusRunning           ExperimentStatus = "running"
	StatusCompleted         ExperimentStatus = "completed"
	StatusFailed            ExperimentStatus = "failed"
	StatusFailedPermanently ExperimentStatus = "failed_permanently"
)

// Terminal reports whether no further automatic transition applies.
func (s ExperimentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailedPermanently
}

// Experiment is one uploaded reactor experiment and its processing
// lifecycle. Status,
// tries, timestamps, error_message and results are written only by the
// lifecycle manager; everything else is immutable after creation.
type Experiment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`

	UserID uint   `gorm:"not null;index" json:"user_id"`
	Name   string `gorm:"type:varchar(200);not null" json:"experiment_name"`

	// Path of the stored time-series upload.
	SeriesPath string `gorm:"type:varchar(500);not null" json:"series_path"`

	Status ExperimentStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Tries  int              `gorm:"not null;default:0" json:"number_of_tries"`

	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	// Simulation parameters, serialized Parameters.
	ParamsJSON string `gorm:"type:text" json:"-"`
}

// ExperimentResult is one named output series of a completed experiment.
type ExperimentResult struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ExperimentID uint   `gorm:"not null;index" json:"experiment_id"`
	ResultType   string `gorm:"type:varchar(100);not null" json:"result_type"`
	ResultData   string `gorm:"type:text;not null" json:"result_data"`
}

// Parameters are the simulation inputs attached to an experiment. All
// fields are optional; the simulator applies documented defaults.
type Parameters struct {
	TAdd      *float64    `json:"t_add,omitempty"`
	TSpan     *[2]float64 `json:"t_span,omitempty"`
	Dt        *float64    `json:"dt,omitempty"`
	AdjFactor *[2]float64 `json:"adj_factor,omitempty"`

	// Initial conditions. When nil the simulator derives them from the
	// first samples of the uploaded series.
	L0i     *float64 `json:"L_0i,omitempty"`
	CVAM0i  *float64 `json:"CVAM_r0i,omitempty"`
	CBA0i   *float64 `json:"CBA_r0i,omitempty"`
	CNaPS0i *float64 `json:"CNaPS_r0i,omitempty"`
	CTBHP0i *float64 `json:"CTBHP_r0i,omitempty"`
	CCRD0i  *float64 `json:"CCRD_r0i,omitempty"`
	CMPOL0i *float64 `json:"CMPOL_r0i,omitempty"`
	Np0i    *float64 `json:"Np_r0i,omitempty"`
	T10i    *float64 `json:"T1_0i,omitempty"`
	T30i    *float64 `json:"T3_0i,omitempty"`
}

func (p Parameters) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (e *Experiment) Parameters() (Parameters, error) {
	var p Parameters
	if e.ParamsJSON == "" {
		return p, nil
	}
	err := json.Unmarshal([]byte(e.ParamsJSON), &p)
	return p, err
}
