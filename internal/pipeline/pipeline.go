package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/forPelevin/scriptreel/internal/domain/report"
	"github.com/forPelevin/scriptreel/internal/domain/scanner"
	"github.com/forPelevin/scriptreel/internal/logsink"
	"github.com/forPelevin/scriptreel/internal/ports"
	"github.com/forPelevin/scriptreel/internal/ports/adapters/capture"
	"github.com/forPelevin/scriptreel/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/scriptreel/internal/ports/adapters/markdown"
	"github.com/forPelevin/scriptreel/internal/ports/adapters/publish"
	"github.com/forPelevin/scriptreel/internal/ports/adapters/sqlite"
	"github.com/forPelevin/scriptreel/internal/ports/adapters/tts"
	"github.com/forPelevin/scriptreel/internal/types"
	"github.com/forPelevin/scriptreel/internal/usecase"
)

const cancelledReason = "run cancelled"

// Collaborators are the backends a run drives. History and Publisher are optional.
// A nil Scan uses scanner.Scan.
type Collaborators struct {
	Scan      func(root, pattern string) ([]types.ScriptDescriptor, error)
	Parser    ports.Parser
	Audio     ports.AudioGenerator
	Visual    ports.VisualGenerator
	Assembler ports.Assembler
	History   ports.HistoryStore
	Publisher ports.Publisher
}

type layout struct {
	Audio   string
	Visuals string
	Logs    string
}

func newLayout(outDir string) layout {
	return layout{
		Audio:   filepath.Join(outDir, "audio"),
		Visuals: filepath.Join(outDir, "visuals"),
		Logs:    filepath.Join(outDir, "logs"),
	}
}

// Run wires the default backends from cfg and processes every script.
func Run(ctx context.Context, cfg Config) (*types.RunSummary, error) {
	cfg = cfg.Resolve()
	log := runLogger(cfg)

	w, h, err := cfg.Dimensions()
	if err != nil {
		return nil, err
	}
	dirs := newLayout(cfg.VideoOutDir)

	// adapters
	ff := ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath, ffmpeg.Options{
		Width:         w,
		Height:        h,
		FPS:           cfg.FPS,
		OutDir:        cfg.VideoOutDir,
		BurnSubtitles: cfg.BurnSubtitles,
	})
	c := Collaborators{
		Parser: markdown.New(),
		Audio: tts.New(tts.Options{
			Mode:          cfg.VoiceMode,
			Voice:         cfg.TTSVoice,
			Command:       cfg.TTSCommand,
			OutDir:        dirs.Audio,
			RatePerSecond: cfg.TTSRateLimit,
		}, ff),
		Visual: capture.New(capture.Options{
			OutDir:      dirs.Visuals,
			BrowserPath: cfg.BrowserPath,
			MmdcPath:    cfg.MmdcPath,
			Width:       w,
			Height:      h,
		}, ff),
		Assembler: ff,
	}

	if cfg.HistoryDB != "" {
		st, err := sqlite.Open(cfg.HistoryDB)
		if err != nil {
			log.WithError(err).Warn("Run history disabled")
		} else {
			defer st.Close()
			c.History = st
		}
	}
	if cfg.Publish.Bucket != "" {
		p, err := publish.New(ctx, publish.Config(cfg.Publish))
		if err != nil {
			log.WithError(err).Warn("Publishing disabled")
		} else {
			c.Publisher = p
		}
	}

	return RunWith(ctx, cfg, c)
}

// RunWith processes every discovered script with the given backends. Scripts
// run one at a time in discovery order; a failing script never stops the run.
// The summary is written once, when the run ends, even after a panic.
func RunWith(ctx context.Context, cfg Config, c Collaborators) (sum *types.RunSummary, err error) {
	cfg = cfg.Resolve()
	log := runLogger(cfg)
	dirs := newLayout(cfg.VideoOutDir)

	log.Info("preparing workspace")
	for _, d := range []string{dirs.Audio, dirs.Visuals, dirs.Logs} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}

	runID := uuid.NewString()
	sum = types.NewRunSummary(runID, time.Now(), cfg.Snapshot())
	rlog := log.WithField("run", runID)

	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("FATAL ERROR: %v", rec)
			rlog.Error(msg)
			sum.Logs = append(sum.Logs, msg)
			err = nil
		}
		sum.Finish(time.Now())
		finish(ctx, c, dirs, sum, rlog)
	}()

	uc := usecase.New(usecase.Deps{
		Parser:    c.Parser,
		Audio:     c.Audio,
		Visual:    c.Visual,
		Assembler: c.Assembler,
		OpenLog: func(name string) (usecase.LogSink, error) {
			return logsink.Open(filepath.Join(dirs.Logs, name+"_log.txt"), log, logrus.Fields{"script": name, "run": runID})
		},
		Log: rlog,
	}, usecase.Options{
		DemoURL:      cfg.DemoURL,
		Headless:     cfg.Headless,
		StageTimeout: cfg.StageTimeout,
	})

	rlog.WithFields(logrus.Fields{"dir": cfg.ScriptDir, "pattern": cfg.ScriptPattern}).Info("Scanning for scripts")
	scan := c.Scan
	if scan == nil {
		scan = scanner.Scan
	}
	descs, err := scan(cfg.ScriptDir, cfg.ScriptPattern)
	if err != nil {
		msg := "ERROR: " + err.Error()
		if errors.Is(err, scanner.ErrDirectoryNotFound) {
			msg = "ERROR: Script directory not found: " + cfg.ScriptDir
		}
		rlog.Error(msg)
		sum.Logs = append(sum.Logs, msg)
	}
	if len(descs) == 0 {
		rlog.Error("ERROR: No scripts found")
		sum.Logs = append(sum.Logs, "ERROR: No scripts found")
		return sum, nil
	}

	sum.ScriptsFound = len(descs)
	rlog.Infof("Found %d scripts", len(descs))
	descs = disambiguate(cfg.ScriptDir, descs, rlog)

	for i, d := range descs {
		if ctx.Err() != nil {
			res := types.NewScriptResult(d)
			res.Errors = append(res.Errors, cancelledReason)
			sum.Add(res)
			continue
		}
		rlog.WithFields(logrus.Fields{"script": d.Name, "n": i + 1, "of": len(descs)}).Info("Starting script")
		res := uc.ProcessScript(ctx, d)
		sum.Add(res)
		rlog.WithFields(logrus.Fields{"script": d.Name, "success": res.Success, "stage": res.FailedStage}).Info("Finished script")
	}
	if ctx.Err() != nil {
		msg := "Run cancelled: " + ctx.Err().Error()
		rlog.Warn(msg)
		sum.Logs = append(sum.Logs, msg)
	}
	return sum, nil
}

// finish publishes videos, writes the summary files and records history.
// Every step is best-effort; a panic in one step is recorded and the rest still run.
func finish(ctx context.Context, c Collaborators, dirs layout, sum *types.RunSummary, log logrus.FieldLogger) {
	folder := buildRunKey(sum.RunID, sum.StartTime)
	publishing := c.Publisher != nil && ctx.Err() == nil

	if publishing {
		guard(sum, log, "publish videos", func() {
			for _, r := range sum.VideosCreated {
				if r.VideoPath == nil {
					continue
				}
				key := folder + "/" + artifactName(r.ScriptName) + filepath.Ext(*r.VideoPath)
				loc, err := c.Publisher.Upload(ctx, *r.VideoPath, key)
				if err != nil {
					log.WithError(err).WithField("script", r.ScriptName).Warn("Publishing video failed")
					sum.Logs = append(sum.Logs, fmt.Sprintf("Publish failed for %s: %v", r.ScriptName, err))
					continue
				}
				sum.Logs = append(sum.Logs, fmt.Sprintf("Published %s to %s", r.ScriptName, loc))
			}
		})
	}

	var written []string
	guard(sum, log, "write summary", func() {
		jsonPath, textPath, err := report.Write(dirs.Logs, sum)
		if err != nil {
			log.WithError(err).Error("Error saving summary log")
			return
		}
		log.WithField("path", jsonPath).Info("Summary log saved")
		log.WithField("path", textPath).Info("Text summary saved")
		written = []string{jsonPath, textPath}
	})

	if publishing && len(written) > 0 {
		guard(sum, log, "publish summary", func() {
			for _, p := range written {
				if _, err := c.Publisher.Upload(ctx, p, folder+"/"+filepath.Base(p)); err != nil {
					log.WithError(err).WithField("file", p).Warn("Publishing summary failed")
				}
			}
		})
	}

	if c.History != nil {
		guard(sum, log, "record history", func() {
			if err := c.History.SaveRun(context.WithoutCancel(ctx), sum); err != nil {
				log.WithError(err).Warn("Recording run history failed")
			}
		})
	}

	log.WithFields(logrus.Fields{
		"created":  sum.SuccessCount,
		"failed":   sum.FailureCount,
		"duration": time.Duration(sum.DurationSeconds * float64(time.Second)).Round(time.Millisecond),
	}).Info("Run complete")
}

// guard runs one end-of-run step and turns a panic into a run log entry.
func guard(sum *types.RunSummary, log logrus.FieldLogger, step string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("FATAL ERROR: %s: %v", step, rec)
			log.Error(msg)
			sum.Logs = append(sum.Logs, msg)
		}
	}()
	fn()
}

// disambiguate renames scripts that share a base name with another script so
// their logs, scene files and videos do not overwrite each other. The first
// occurrence keeps its name; later ones are prefixed with their directory.
func disambiguate(root string, descs []types.ScriptDescriptor, log logrus.FieldLogger) []types.ScriptDescriptor {
	count := make(map[string]int, len(descs))
	for _, d := range descs {
		count[d.Name]++
	}
	used := make(map[string]bool, len(descs))
	out := make([]types.ScriptDescriptor, len(descs))
	for i, d := range descs {
		out[i] = d
		if count[d.Name] < 2 {
			used[d.Name] = true
			continue
		}
		name := d.Name
		if used[name] {
			if rel, err := filepath.Rel(root, filepath.Dir(d.Path)); err == nil && rel != "." {
				if slug := normalizePathSegment(filepath.ToSlash(rel)); slug != "" {
					name = slug + "_" + d.Name
				}
			}
			for n := 2; used[name]; n++ {
				name = fmt.Sprintf("%s_%d", d.Name, n)
			}
			log.WithFields(logrus.Fields{"script": d.Path, "name": name}).Warn("Duplicate script name, renamed outputs")
		}
		used[name] = true
		out[i].Name = name
	}
	return out
}

func runLogger(cfg Config) *logrus.Logger {
	if cfg.Log != nil {
		return cfg.Log
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// buildRunKey names a run's folder in remote storage, e.g. 20260212-103045Z-1a2b3c4d.
func buildRunKey(runID string, start time.Time) string {
	id := normalizePathSegment(runID)
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s-%s", start.UTC().Format("20060102-150405Z"), id)
}

func artifactName(scriptName string) string {
	name := normalizePathSegment(scriptName)
	if name == "" {
		name = "script"
	}
	return name
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// ensure adapters implement ports
var _ ports.Parser = (*markdown.Parser)(nil)
var _ ports.AudioGenerator = (*tts.Adapter)(nil)
var _ ports.VisualGenerator = (*capture.Adapter)(nil)
var _ ports.Assembler = (*ffmpeg.Adapter)(nil)
var _ tts.SilenceRenderer = (*ffmpeg.Adapter)(nil)
var _ capture.TitleCardRenderer = (*ffmpeg.Adapter)(nil)
var _ ports.HistoryStore = (*sqlite.Store)(nil)
var _ ports.Publisher = (*publish.Publisher)(nil)
var _ usecase.LogSink = (*logsink.Sink)(nil)
