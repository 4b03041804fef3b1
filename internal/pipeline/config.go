package pipeline

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	VoiceLocalTTS = "local_tts"
	VoiceEdgeTTS  = "edge_tts"
	VoiceCommand  = "command"
	VoiceSilent   = "silent"
)

type PublishConfig struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

type Config struct {
	RepoRoot      string
	ScriptDir     string
	ScriptPattern string
	VideoOutDir   string
	DemoURL       string
	VoiceMode     string
	Resolution    string
	FPS           int
	Headless      bool

	LogLevel     string
	StageTimeout time.Duration

	FFmpegPath  string
	FFprobePath string

	TTSCommand   string
	TTSVoice     string
	TTSRateLimit float64

	BrowserPath string
	MmdcPath    string

	BurnSubtitles bool
	HistoryDB     string
	Publish       PublishConfig

	// Log is the run logger. Nil discards run output.
	Log *logrus.Logger
}

func DefaultConfig() Config {
	wd, _ := os.Getwd()
	return Config{
		RepoRoot:      wd,
		ScriptDir:     "docs/hiring-portfolio",
		ScriptPattern: "*.md",
		VideoOutDir:   "video_output",
		VoiceMode:     VoiceLocalTTS,
		Resolution:    "1920x1080",
		FPS:           30,
		Headless:      true,
		LogLevel:      "info",
		StageTimeout:  15 * time.Minute,
		FFmpegPath:    "ffmpeg",
		FFprobePath:   "ffprobe",
		TTSVoice:      "en-US-GuyNeural",
		BrowserPath:   "chromium",
		MmdcPath:      "mmdc",
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ScriptDir) == "" {
		return errors.New("SCRIPT_DIR is empty")
	}
	if strings.TrimSpace(c.VideoOutDir) == "" {
		return errors.New("VIDEO_OUT_DIR is empty")
	}
	switch c.VoiceMode {
	case VoiceLocalTTS, VoiceEdgeTTS, VoiceSilent:
	case VoiceCommand:
		if strings.TrimSpace(c.TTSCommand) == "" {
			return errors.New("VOICE_MODE=command requires TTS_COMMAND")
		}
	default:
		return errors.Errorf("invalid VOICE_MODE %q: want one of %s, %s, %s, %s",
			c.VoiceMode, VoiceLocalTTS, VoiceEdgeTTS, VoiceCommand, VoiceSilent)
	}
	if _, _, err := c.Dimensions(); err != nil {
		return err
	}
	if c.FPS < 1 || c.FPS > 120 {
		return errors.Errorf("invalid FPS %d: must be within 1..120", c.FPS)
	}
	if c.StageTimeout < 0 {
		return errors.New("STAGE_TIMEOUT must not be negative")
	}
	if c.TTSRateLimit < 0 {
		return errors.New("TTS_RATE_LIMIT must not be negative")
	}
	if c.Publish.Bucket != "" && c.Publish.Region == "" {
		return errors.New("PUBLISH_BUCKET requires PUBLISH_REGION")
	}
	return ValidateDemoURL(c.DemoURL)
}

// Dimensions parses Resolution ("WxH"). Both sides must be positive and even
// for yuv420p output.
func (c Config) Dimensions() (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(c.Resolution)), "x")
	if !ok {
		return 0, 0, errors.Errorf("invalid VIDEO_RESOLUTION %q: want WIDTHxHEIGHT", c.Resolution)
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, errors.Errorf("invalid VIDEO_RESOLUTION %q: want positive integers", c.Resolution)
	}
	if w%2 != 0 || h%2 != 0 {
		return 0, 0, errors.Errorf("invalid VIDEO_RESOLUTION %q: width and height must be even", c.Resolution)
	}
	return w, h, nil
}

// Resolve makes relative paths absolute against RepoRoot.
func (c Config) Resolve() Config {
	root := c.RepoRoot
	if root == "" {
		root, _ = os.Getwd()
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	c.RepoRoot = root
	c.ScriptDir = resolvePath(root, c.ScriptDir)
	c.VideoOutDir = resolvePath(root, c.VideoOutDir)
	if c.HistoryDB != "" {
		c.HistoryDB = resolvePath(root, c.HistoryDB)
	}
	return c
}

func resolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// Snapshot is the configuration recorded in the run summary.
func (c Config) Snapshot() map[string]string {
	return map[string]string{
		"REPO_ROOT":        c.RepoRoot,
		"SCRIPT_DIR":       c.ScriptDir,
		"SCRIPT_PATTERN":   c.ScriptPattern,
		"VIDEO_OUT_DIR":    c.VideoOutDir,
		"DEMO_URL":         c.DemoURL,
		"VOICE_MODE":       c.VoiceMode,
		"VIDEO_RESOLUTION": c.Resolution,
		"FPS":              strconv.Itoa(c.FPS),
		"HEADLESS":         strconv.FormatBool(c.Headless),
	}
}

// ValidateDemoURL accepts an empty value or an absolute http(s) URL without
// credentials or fragment.
func ValidateDemoURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrap(err, "invalid DEMO_URL")
	}
	if !u.IsAbs() || u.Host == "" {
		return errors.Errorf("invalid DEMO_URL %q: absolute URL with host is required", raw)
	}
	if u.User != nil {
		return errors.Errorf("invalid DEMO_URL %q: userinfo is not allowed", raw)
	}
	if u.Fragment != "" {
		return errors.Errorf("invalid DEMO_URL %q: fragment is not allowed", raw)
	}
	if u.Hostname() == "" {
		return errors.Errorf("invalid DEMO_URL %q: host is required", raw)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errors.Errorf("invalid DEMO_URL %q: http or https is required", raw)
	}
	return nil
}
