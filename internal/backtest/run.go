// Package backtest turns one replay into a durable, queryable run: config
// in, journaled orders and equity snapshots out.
package backtest

import (
	"fmt"
	"time"

	"klinesim/internal/market"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig is the parameter snapshot of one run, kept verbatim so a run can
// be repeated later.
type RunConfig struct {
	Pair         string             `json:"pair"`
	Strategy     string             `json:"strategy"`
	Interval     string             `json:"interval"`
	BaseInterval string             `json:"base_interval,omitempty"`
	StartTS      int64              `json:"start_ts"` // unix milliseconds
	EndTS        int64              `json:"end_ts"`
	Portfolio    map[string]float64 `json:"portfolio"`
	Params       map[string]any     `json:"params,omitempty"`
}

func (c RunConfig) Start() time.Time { return time.UnixMilli(c.StartTS).UTC() }
func (c RunConfig) End() time.Time   { return time.UnixMilli(c.EndTS).UTC() }

func (c RunConfig) validate() error {
	if _, err := market.ParsePair(c.Pair); err != nil {
		return err
	}
	if _, err := market.ParseInterval(c.Interval); err != nil {
		return err
	}
	if c.BaseInterval != "" {
		if _, err := market.ParseInterval(c.BaseInterval); err != nil {
			return err
		}
	}
	if c.Strategy == "" {
		return fmt.Errorf("strategy is required")
	}
	if c.StartTS <= 0 || c.EndTS <= c.StartTS {
		return fmt.Errorf("start_ts/end_ts must describe a non-empty window")
	}
	if len(c.Portfolio) == 0 {
		return fmt.Errorf("starting portfolio is required")
	}
	return nil
}

// RunStats summarises a finished run.
type RunStats struct {
	InitialEquity  float64   `json:"initial_equity"`
	FinalEquity    float64   `json:"final_equity"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Orders         int       `json:"orders"`
	Filled         int       `json:"filled"`
	Canceled       int       `json:"canceled"`
	Snapshots      int       `json:"snapshots"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Run is one replay task through its lifecycle.
type Run struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Config      RunConfig `json:"config"`
	Stats       RunStats  `json:"stats"`
	Message     string    `json:"message,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}
