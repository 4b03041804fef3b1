package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/forPelevin/scriptreel/internal/logsink"
	"github.com/forPelevin/scriptreel/internal/pipeline"
)

func run(cmd *cobra.Command) error {
	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg = cfg.Resolve()

	logger, closer, err := logsink.NewRunLogger(filepath.Join(cfg.VideoOutDir, "logs"), cfg.LogLevel, cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("log setup: %w", err)
	}
	defer closer.Close()
	cfg.Log = logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"script_dir": cfg.ScriptDir,
		"pattern":    cfg.ScriptPattern,
		"out":        cfg.VideoOutDir,
		"voice":      cfg.VoiceMode,
		"resolution": cfg.Resolution,
		"fps":        cfg.FPS,
	}).Info("VIDEO PRODUCTION RUN")

	sum, err := pipeline.Run(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("FATAL ERROR")
		return err
	}
	if sum.FailureCount > 0 {
		return fmt.Errorf("%d of %d scripts failed", sum.FailureCount, sum.SuccessCount+sum.FailureCount)
	}
	return nil
}

func loadConfig() pipeline.Config {
	def := pipeline.DefaultConfig()
	return pipeline.Config{
		RepoRoot:      getEnv("REPO_ROOT", def.RepoRoot),
		ScriptDir:     getEnv("SCRIPT_DIR", def.ScriptDir),
		ScriptPattern: getEnv("SCRIPT_PATTERN", def.ScriptPattern),
		VideoOutDir:   getEnv("VIDEO_OUT_DIR", def.VideoOutDir),
		DemoURL:       getEnv("DEMO_URL", ""),
		VoiceMode:     getEnv("VOICE_MODE", def.VoiceMode),
		Resolution:    getEnv("VIDEO_RESOLUTION", def.Resolution),
		FPS:           getEnvAsInt("FPS", def.FPS),
		Headless:      getEnvAsBool("HEADLESS", def.Headless),

		LogLevel:     getEnv("LOG_LEVEL", def.LogLevel),
		StageTimeout: getEnvAsDuration("STAGE_TIMEOUT", def.StageTimeout),

		FFmpegPath:  getEnv("FFMPEG_PATH", def.FFmpegPath),
		FFprobePath: getEnv("FFPROBE_PATH", def.FFprobePath),

		TTSCommand:   getEnv("TTS_COMMAND", ""),
		TTSVoice:     getEnv("TTS_VOICE", def.TTSVoice),
		TTSRateLimit: getEnvAsFloat("TTS_RATE_LIMIT", 0),

		BrowserPath: getEnv("BROWSER_PATH", def.BrowserPath),
		MmdcPath:    getEnv("MMDC_PATH", def.MmdcPath),

		BurnSubtitles: getEnvAsBool("BURN_SUBTITLES", false),
		HistoryDB:     getEnv("HISTORY_DB", ""),
		Publish: pipeline.PublishConfig{
			Bucket:    getEnv("PUBLISH_BUCKET", ""),
			Endpoint:  getEnv("PUBLISH_ENDPOINT", ""),
			Region:    getEnv("PUBLISH_REGION", ""),
			AccessKey: getEnv("PUBLISH_ACCESS_KEY", ""),
			SecretKey: getEnv("PUBLISH_SECRET_KEY", ""),
			Prefix:    getEnv("PUBLISH_PREFIX", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	warnInvalid(key, value, defaultValue, "Invalid integer, using default")
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	warnInvalid(key, value, defaultValue, "Invalid number, using default")
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	warnInvalid(key, value, defaultValue, "Invalid boolean, using default")
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	if value == "0" {
		return 0
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	warnInvalid(key, value, defaultValue, "Invalid duration, using default")
	return defaultValue
}

func warnInvalid(key, value string, defaultValue any, msg string) {
	logrus.WithFields(logrus.Fields{
		"key":          key,
		"value":        value,
		"defaultValue": defaultValue,
	}).Warn(msg)
}
