package config

import (
	"fmt"
	"time"
)

// ImagePruneOptions is the validated, normalized form of ImagePruneConfig.
// The cleanup time is parsed into components so downstream scheduling never
// re-parses the raw string.
type ImagePruneOptions struct {
	// Enabled reports whether pruning runs at all
	Enabled bool

	// CleanupHour is the validated hour component (0-23)
	CleanupHour int

	// CleanupMinute is the validated minute component (0-59)
	CleanupMinute int

	// Recurrence is the interval between runs, at least 24h
	Recurrence time.Duration

	// MinAge is how long an image must be unused before removal
	MinAge time.Duration
}

// CheckImagePruneSettings validates the image prune section and returns its
// normalized form. Callers schedule pruning from the returned options, never
// from the raw config, so the configured cleanup time is the one that runs.
//
// A nil section is valid and yields the defaults: pruning on, daily at
// midnight, images unused for a week eligible.
//
// Validation rules:
//   - Recurrence must be at least 24 hours
//   - CleanupTime must be strict 24-hour HH:MM (two digits each,
//     hour 00-23, minute 00-59)
func CheckImagePruneSettings(cfg *ImagePruneConfig) (ImagePruneOptions, error) {
	opts := ImagePruneOptions{
		Enabled:    true,
		Recurrence: DefaultPruneRecurrence,
		MinAge:     DefaultPruneMinAge,
	}

	if cfg == nil {
		return opts, nil
	}

	opts.Enabled = cfg.IsEnabled()

	if cfg.Recurrence != 0 {
		if cfg.Recurrence < 24*time.Hour {
			return ImagePruneOptions{}, fmt.Errorf(
				"image prune recurrence must be at least 24h, got %s", cfg.Recurrence)
		}
		opts.Recurrence = cfg.Recurrence
	}

	if cfg.MinAge != 0 {
		if cfg.MinAge < 0 {
			return ImagePruneOptions{}, fmt.Errorf(
				"image prune min_age must not be negative, got %s", cfg.MinAge)
		}
		opts.MinAge = cfg.MinAge
	}

	cleanupTime := cfg.CleanupTime
	if cleanupTime == "" {
		cleanupTime = DefaultCleanupTime
	}

	hour, minute, err := parseCleanupTime(cleanupTime)
	if err != nil {
		return ImagePruneOptions{}, err
	}
	opts.CleanupHour = hour
	opts.CleanupMinute = minute

	return opts, nil
}

// parseCleanupTime parses a strict 24-hour HH:MM string.
// Exactly five characters: two digits, a colon, two digits. Anything
// looser ("2:03", "23:333", trailing garbage) is rejected.
func parseCleanupTime(s string) (hour, minute int, err error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, fmt.Errorf("image prune cleanup_time %q is not in HH:MM format", s)
	}

	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, 0, fmt.Errorf("image prune cleanup_time %q is not in HH:MM format", s)
		}
	}

	hour = int(s[0]-'0')*10 + int(s[1]-'0')
	minute = int(s[3]-'0')*10 + int(s[4]-'0')

	if hour > 23 {
		return 0, 0, fmt.Errorf("image prune cleanup_time %q: hour %02d out of range", s, hour)
	}
	if minute > 59 {
		return 0, 0, fmt.Errorf("image prune cleanup_time %q: minute %02d out of range", s, minute)
	}

	return hour, minute, nil
}
