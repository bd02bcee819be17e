package params

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Tunable ranges exposed to the user.
const (
	MinSERRatio  = 2.0
	MaxSERRatio  = 10.0
	SERRatioStep = 0.5

	MinBlowDuration  = 100 * time.Millisecond
	MaxBlowDuration  = 1000 * time.Millisecond
	BlowDurationStep = 50 * time.Millisecond

	MinCooldown  = 100 * time.Millisecond
	MaxCooldown  = 2000 * time.Millisecond
	CooldownStep = 50 * time.Millisecond
)

// Fixed detector constants. They were tuned empirically and are kept
// overridable rather than derived.
const (
	DefaultEnergyFloor       = 120.0
	DefaultCentroidCeilingHz = 1500.0
	DefaultStdMultiplier     = 3.0
	DefaultGracePeriod       = 2
)

const (
	DefaultSERRatio          = 2.2
	DefaultBlowDuration      = 100 * time.Millisecond
	DefaultCooldown          = 500 * time.Millisecond
	DefaultAutoCalibration   = 1200 * time.Millisecond
	DefaultManualCalibration = 1500 * time.Millisecond
)

var (
	ErrSERRatioRange     = fmt.Errorf("ser ratio must be between %.1f and %.1f", MinSERRatio, MaxSERRatio)
	ErrBlowDurationRange = fmt.Errorf("blow duration must be between %s and %s", MinBlowDuration, MaxBlowDuration)
	ErrCooldownRange     = fmt.Errorf("cooldown must be between %s and %s", MinCooldown, MaxCooldown)
	ErrGracePeriod       = errors.New("grace period must be non-negative")
	ErrStdMultiplier     = errors.New("std multiplier must be non-negative")
	ErrCentroidCeiling   = errors.New("centroid ceiling must be positive")
	ErrCalibrationLength = errors.New("calibration duration must be positive")
)

// Thresholds holds everything the decision engine and the blow state
// machine compare against.
type Thresholds struct {
	SERRatio     float64       `json:"serRatio"`
	BlowDuration time.Duration `json:"blowDuration"`
	Cooldown     time.Duration `json:"cooldown"`

	EnergyFloor       float64 `json:"energyFloor"`
	CentroidCeilingHz float64 `json:"centroidCeilingHz"`
	StdMultiplier     float64 `json:"stdMultiplier"`
	GracePeriod       int     `json:"gracePeriod"`
}

// Defaults returns the thresholds the detector ships with.
func Defaults() Thresholds {
	return Thresholds{
		SERRatio:          DefaultSERRatio,
		BlowDuration:      DefaultBlowDuration,
		Cooldown:          DefaultCooldown,
		EnergyFloor:       DefaultEnergyFloor,
		CentroidCeilingHz: DefaultCentroidCeilingHz,
		StdMultiplier:     DefaultStdMultiplier,
		GracePeriod:       DefaultGracePeriod,
	}
}

// Validate reports every out-of-range field.
func (t Thresholds) Validate() error {
	var errs []error
	if t.SERRatio < MinSERRatio || t.SERRatio > MaxSERRatio || math.IsNaN(t.SERRatio) {
		errs = append(errs, ErrSERRatioRange)
	}
	if t.BlowDuration < MinBlowDuration || t.BlowDuration > MaxBlowDuration {
		errs = append(errs, ErrBlowDurationRange)
	}
	if t.Cooldown < MinCooldown || t.Cooldown > MaxCooldown {
		errs = append(errs, ErrCooldownRange)
	}
	if t.GracePeriod < 0 {
		errs = append(errs, ErrGracePeriod)
	}
	if t.StdMultiplier < 0 {
		errs = append(errs, ErrStdMultiplier)
	}
	if t.CentroidCeilingHz <= 0 {
		errs = append(errs, ErrCentroidCeiling)
	}
	return errors.Join(errs...)
}

// Snap rounds the user-tunable fields to their slider step and clamps them
// into range. Fixed constants are left untouched.
func (t Thresholds) Snap() Thresholds {
	t.SERRatio = clamp(math.Round(t.SERRatio/SERRatioStep)*SERRatioStep, MinSERRatio, MaxSERRatio)
	t.BlowDuration = snapDuration(t.BlowDuration, BlowDurationStep, MinBlowDuration, MaxBlowDuration)
	t.Cooldown = snapDuration(t.Cooldown, CooldownStep, MinCooldown, MaxCooldown)
	return t
}

// Settings is the full persisted configuration of a detection run.
type Settings struct {
	Thresholds        Thresholds
	NoiseSuppression  bool
	AutoCalibration   time.Duration
	ManualCalibration time.Duration
	Record            bool
}

// DefaultSettings mirrors the behaviour of a fresh start.
func DefaultSettings() Settings {
	return Settings{
		Thresholds:        Defaults(),
		AutoCalibration:   DefaultAutoCalibration,
		ManualCalibration: DefaultManualCalibration,
		Record:            true,
	}
}

// Validate checks thresholds and calibration windows.
func (s Settings) Validate() error {
	var errs []error
	if err := s.Thresholds.Validate(); err != nil {
		errs = append(errs, err)
	}
	if s.AutoCalibration <= 0 || s.ManualCalibration <= 0 {
		errs = append(errs, ErrCalibrationLength)
	}
	return errors.Join(errs...)
}

func snapDuration(d, step, minVal, maxVal time.Duration) time.Duration {
	steps := math.Round(float64(d) / float64(step))
	snapped := time.Duration(steps) * step
	if snapped < minVal {
		return minVal
	}
	if snapped > maxVal {
		return maxVal
	}
	return snapped
}

func clamp(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
