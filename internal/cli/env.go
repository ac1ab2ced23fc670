package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/forPelevin/hlreel/internal/logging"
	"github.com/forPelevin/hlreel/internal/pipeline"
)

const defaultJobTimeout = 3 * time.Hour

// engineConfig reads the settings shared by every subcommand from the
// environment.
func engineConfig(log zerolog.Logger) (pipeline.Config, error) {
	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		return pipeline.Config{}, errors.New("OPENROUTER_API_KEY is required (set it in .env)")
	}
	timeout, err := getenvDuration("HLREEL_JOB_TIMEOUT", defaultJobTimeout)
	if err != nil {
		return pipeline.Config{}, err
	}
	rps, err := getenvFloat("HLREEL_AI_RPS", 2)
	if err != nil {
		return pipeline.Config{}, err
	}

	return pipeline.Config{
		OutDir:     getenvDefault("HLREEL_OUT", "out"),
		PublicURL:  os.Getenv("HLREEL_PUBLIC_URL"),
		CacheDir:   getenvDefault("HLREEL_CACHE", ".cache"),
		MusicPath:  os.Getenv("HLREEL_MUSIC"),
		JobTimeout: timeout,
		TuningPath: os.Getenv("HLREEL_TUNING"),

		FFmpegPath:  getenvDefault("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getenvDefault("FFPROBE_PATH", "ffprobe"),

		OpenRouterAPIKey:       apiKey,
		OpenRouterModel:        os.Getenv("OPENROUTER_MODEL"),
		OpenRouterBaseURL:      getenvDefault("OPENROUTER_BASE_URL", "https://openrouter.ai"),
		OpenRouterAllowedHosts: getenvList("OPENROUTER_ALLOWED_HOSTS"),
		AIRequestsPerSecond:    rps,

		Log: log,
	}, nil
}

func newLogger(pretty bool) zerolog.Logger {
	if v := os.Getenv("HLREEL_LOG_FORMAT"); v != "" {
		pretty = v != "json"
	}
	return logging.New(getenvDefault("HLREEL_LOG_LEVEL", "info"), pretty, os.Stderr)
}

func storeDSN() string {
	return getenvDefault("HLREEL_STORE", ".cache/hlreel.db")
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return d, nil
}

func getenvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return n, nil
}

func getenvFloat(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	return f, nil
}

func getenvList(k string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(k), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
