package config

import (
	"time"

	"github.com/iliyamo/scholar-slot-booking/internal/conflict"
	"github.com/iliyamo/scholar-slot-booking/internal/ledger"
	"github.com/iliyamo/scholar-slot-booking/internal/preference"
	"github.com/iliyamo/scholar-slot-booking/internal/resolution"
)

// SchedulingConfig holds the heuristic constants of the engine.
type SchedulingConfig struct {
	HighOverlapRatio float64       // SCHED_HIGH_OVERLAP_RATIO
	MaxAttempts      int           // SCHED_MAX_ATTEMPTS
	HorizonDays      int           // SCHED_HORIZON_DAYS
	LowConfidence    float64       // SCHED_LOW_CONFIDENCE; recommendations below it carry a mismatch
	BroadcastTTL     time.Duration // SCHED_BROADCAST_TTL
	MaxSlots         int           // SCHED_MAX_SLOTS per broadcast
	Alternatives     int           // SCHED_ALTERNATIVES offered after a lost claim
	Timezone         string        // SCHED_DEFAULT_TIMEZONE
	TemplatesFile    string        // SCHED_TEMPLATES_FILE; empty means built-ins only

	Resolution resolution.Config
	Weights    preference.Weights
}

// LoadSchedulingConfig reads SCHED_* variables over the stock calibration.
func LoadSchedulingConfig() SchedulingConfig {
	rc := resolution.DefaultConfig()
	rc.MaxAttempts = envInt("SCHED_MAX_ATTEMPTS", rc.MaxAttempts)
	rc.HorizonDays = envInt("SCHED_HORIZON_DAYS", rc.HorizonDays)
	rc.Reschedule = envFloat("SCHED_CONFIDENCE_RESCHEDULE", rc.Reschedule)
	rc.Split = envFloat("SCHED_CONFIDENCE_SPLIT", rc.Split)
	rc.AddCapacity = envFloat("SCHED_CONFIDENCE_ADD_CAPACITY", rc.AddCapacity)
	rc.Merge = envFloat("SCHED_CONFIDENCE_MERGE", rc.Merge)

	w := preference.DefaultWeights()
	w.Base = envFloat("SCORE_BASE", w.Base)
	w.PreferredTime = envFloat("SCORE_PREFERRED_TIME", w.PreferredTime)
	w.VisualWindow = envFloat("SCORE_VISUAL_WINDOW", w.VisualWindow)
	w.HighEngagement = envFloat("SCORE_HIGH_ENGAGEMENT", w.HighEngagement)
	w.VisualFrom = envStr("SCORE_VISUAL_FROM", w.VisualFrom)
	w.VisualTo = envStr("SCORE_VISUAL_TO", w.VisualTo)

	cfg := SchedulingConfig{
		HighOverlapRatio: envFloat("SCHED_HIGH_OVERLAP_RATIO", conflict.DefaultHighOverlapRatio),
		MaxAttempts:      rc.MaxAttempts,
		HorizonDays:      rc.HorizonDays,
		LowConfidence:    envFloat("SCHED_LOW_CONFIDENCE", 0.6),
		BroadcastTTL:     envDur("SCHED_BROADCAST_TTL", ledger.DefaultTTL),
		MaxSlots:         envInt("SCHED_MAX_SLOTS", 50),
		Alternatives:     envInt("SCHED_ALTERNATIVES", 3),
		Timezone:         envStr("SCHED_DEFAULT_TIMEZONE", "UTC"),
		TemplatesFile:    envStr("SCHED_TEMPLATES_FILE", ""),
		Resolution:       rc,
		Weights:          w,
	}
	if cfg.HighOverlapRatio <= 0 || cfg.HighOverlapRatio > 1 {
		cfg.HighOverlapRatio = conflict.DefaultHighOverlapRatio
	}
	if cfg.MaxSlots < 1 {
		cfg.MaxSlots = 50
	}
	if cfg.Alternatives < 1 {
		cfg.Alternatives = 3
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		cfg.Timezone = "UTC"
	}
	return cfg
}
