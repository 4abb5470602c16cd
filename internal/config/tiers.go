package config

import "fmt"

// TierConfig holds the quota limits of one subscription tier.
type TierConfig struct {
	ChatTokensPerMonth   int64 `yaml:"chat_tokens_per_month"`
	ImagesPerMonth       int64 `yaml:"images_per_month"`
	VideoSecondsPerMonth int64 `yaml:"video_seconds_per_month"`
	VideosPerDay         int64 `yaml:"videos_per_day"`
	// MaxVideoSeconds caps a single video or chain request.
	MaxVideoSeconds int64 `yaml:"max_video_seconds"`
}

// DefaultTiers returns the built-in free/pro/studio tiers.
func DefaultTiers() map[string]TierConfig {
	return map[string]TierConfig{
		"free": {
			ChatTokensPerMonth:   10000,
			ImagesPerMonth:       50,
			VideoSecondsPerMonth: 5 * 60,
			VideosPerDay:         5,
			MaxVideoSeconds:      15,
		},
		"pro": {
			ChatTokensPerMonth:   100000,
			ImagesPerMonth:       500,
			VideoSecondsPerMonth: 30 * 60,
			VideosPerDay:         50,
			MaxVideoSeconds:      60,
		},
		"studio": {
			ChatTokensPerMonth:   500000,
			ImagesPerMonth:       2000,
			VideoSecondsPerMonth: 120 * 60,
			VideosPerDay:         500,
			MaxVideoSeconds:      300,
		},
	}
}

// Validate rejects negative limits.
func (t TierConfig) Validate() error {
	if t.ChatTokensPerMonth < 0 || t.ImagesPerMonth < 0 || t.VideoSecondsPerMonth < 0 || t.VideosPerDay < 0 {
		return fmt.Errorf("limits must be >= 0")
	}
	if t.MaxVideoSeconds < 0 {
		return fmt.Errorf("max_video_seconds must be >= 0")
	}
	return nil
}
