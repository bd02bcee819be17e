package params

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/ini.v1"
)

const (
	sectionDetector    = "detector"
	sectionCalibration = "calibration"
	sectionCapture     = "capture"
)

// Load reads settings from an INI file on top of DefaultSettings. Missing keys
// keep their defaults; malformed ones are reported.
func Load(path string) (Settings, error) {
	s := DefaultSettings()

	cfg, err := ini.Load(path)
	if err != nil {
		return s, fmt.Errorf("load settings %s: %w", path, err)
	}

	det := cfg.Section(sectionDetector)
	if det.HasKey("ser_ratio") {
		if s.Thresholds.SERRatio, err = det.Key("ser_ratio").Float64(); err != nil {
			return s, fmt.Errorf("ser_ratio: %w", err)
		}
	}
	if s.Thresholds.BlowDuration, err = readMillis(det, "blow_duration_ms", s.Thresholds.BlowDuration); err != nil {
		return s, err
	}
	if s.Thresholds.Cooldown, err = readMillis(det, "cooldown_ms", s.Thresholds.Cooldown); err != nil {
		return s, err
	}
	if det.HasKey("energy_floor") {
		if s.Thresholds.EnergyFloor, err = det.Key("energy_floor").Float64(); err != nil {
			return s, fmt.Errorf("energy_floor: %w", err)
		}
	}
	if det.HasKey("centroid_ceiling_hz") {
		if s.Thresholds.CentroidCeilingHz, err = det.Key("centroid_ceiling_hz").Float64(); err != nil {
			return s, fmt.Errorf("centroid_ceiling_hz: %w", err)
		}
	}
	if det.HasKey("std_multiplier") {
		if s.Thresholds.StdMultiplier, err = det.Key("std_multiplier").Float64(); err != nil {
			return s, fmt.Errorf("std_multiplier: %w", err)
		}
	}
	if det.HasKey("grace_period") {
		if s.Thresholds.GracePeriod, err = det.Key("grace_period").Int(); err != nil {
			return s, fmt.Errorf("grace_period: %w", err)
		}
	}
	if v, err := det.Key("record").Bool(); err == nil {
		s.Record = v
	}

	cal := cfg.Section(sectionCalibration)
	if s.AutoCalibration, err = readMillis(cal, "auto_ms", s.AutoCalibration); err != nil {
		return s, err
	}
	if s.ManualCalibration, err = readMillis(cal, "manual_ms", s.ManualCalibration); err != nil {
		return s, err
	}

	if v, err := cfg.Section(sectionCapture).Key("noise_suppression").Bool(); err == nil {
		s.NoiseSuppression = v
	}

	s.Thresholds = s.Thresholds.Snap()
	return s, s.Validate()
}

// Save writes settings to path, replacing any existing file.
func Save(path string, s Settings) error {
	cfg := ini.Empty()

	det := cfg.Section(sectionDetector)
	det.Key("ser_ratio").SetValue(strconv.FormatFloat(s.Thresholds.SERRatio, 'f', -1, 64))
	det.Key("blow_duration_ms").SetValue(strconv.FormatInt(s.Thresholds.BlowDuration.Milliseconds(), 10))
	det.Key("cooldown_ms").SetValue(strconv.FormatInt(s.Thresholds.Cooldown.Milliseconds(), 10))
	det.Key("energy_floor").SetValue(strconv.FormatFloat(s.Thresholds.EnergyFloor, 'f', -1, 64))
	det.Key("centroid_ceiling_hz").SetValue(strconv.FormatFloat(s.Thresholds.CentroidCeilingHz, 'f', -1, 64))
	det.Key("std_multiplier").SetValue(strconv.FormatFloat(s.Thresholds.StdMultiplier, 'f', -1, 64))
	det.Key("grace_period").SetValue(strconv.Itoa(s.Thresholds.GracePeriod))
	det.Key("record").SetValue(strconv.FormatBool(s.Record))

	cal := cfg.Section(sectionCalibration)
	cal.Key("auto_ms").SetValue(strconv.FormatInt(s.AutoCalibration.Milliseconds(), 10))
	cal.Key("manual_ms").SetValue(strconv.FormatInt(s.ManualCalibration.Milliseconds(), 10))

	cfg.Section(sectionCapture).Key("noise_suppression").SetValue(strconv.FormatBool(s.NoiseSuppression))

	if err := cfg.SaveTo(path); err != nil {
		return fmt.Errorf("save settings %s: %w", path, err)
	}
	return nil
}

func readMillis(sec *ini.Section, key string, fallback time.Duration) (time.Duration, error) {
	if !sec.HasKey(key) {
		return fallback, nil
	}
	ms, err := sec.Key(key).Int64()
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
