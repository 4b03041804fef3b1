package tts

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/forPelevin/scriptreel/internal/types"
)

const (
	ModeLocal   = "local_tts"
	ModeEdge    = "edge_tts"
	ModeCommand = "command"
	ModeSilent  = "silent"
)

const defaultEspeakVoice = "en-us"

type SilenceRenderer interface {
	RenderSilence(ctx context.Context, d time.Duration, outWav string) error
}

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

type Options struct {
	Mode    string
	Voice   string
	Command string
	OutDir  string
	// RatePerSecond caps engine invocations; zero means unlimited.
	RatePerSecond float64
}

type Adapter struct {
	opts    Options
	limiter *rate.Limiter
	silence SilenceRenderer
	run     Runner
}

func New(opts Options, silence SilenceRenderer) *Adapter {
	if opts.Mode == "" {
		opts.Mode = ModeLocal
	}
	a := &Adapter{opts: opts, silence: silence, run: execRunner}
	if opts.RatePerSecond > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return a
}

// WithRunner swaps the command runner.
func (a *Adapter) WithRunner(r Runner) *Adapter {
	a.run = r
	return a
}

// GenerateFromScenes writes {OutDir}/{script}_scene_NNN.{wav|mp3} for each
// scene. The first failing scene aborts the whole script.
func (a *Adapter) GenerateFromScenes(ctx context.Context, scenes []types.Scene, scriptName string, log logrus.FieldLogger) ([]types.AudioArtifact, error) {
	if len(scenes) == 0 {
		return nil, fmt.Errorf("tts: no scenes")
	}
	if err := os.MkdirAll(a.opts.OutDir, 0o755); err != nil {
		return nil, err
	}

	out := make([]types.AudioArtifact, 0, len(scenes))
	for _, sc := range scenes {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("scene %d: %w", sc.Index, err)
			}
		}

		p := filepath.Join(a.opts.OutDir, types.SceneFileBase(scriptName, sc.Index)+a.ext())
		log.WithFields(logrus.Fields{"scene": sc.Index, "words": sc.WordCount()}).Info("Synthesizing narration")
		if err := a.synthesize(ctx, sc, p); err != nil {
			return nil, fmt.Errorf("scene %d: %w", sc.Index, err)
		}
		if fi, err := os.Stat(p); err != nil || fi.Size() == 0 {
			return nil, fmt.Errorf("scene %d: %s produced no audio at %s", sc.Index, a.opts.Mode, p)
		}
		out = append(out, types.AudioArtifact{SceneIndex: sc.Index, Path: p})
	}
	return out, nil
}

func (a *Adapter) ext() string {
	switch a.opts.Mode {
	case ModeEdge, ModeCommand:
		return ".mp3"
	default:
		return ".wav"
	}
}

func (a *Adapter) synthesize(ctx context.Context, sc types.Scene, outFile string) error {
	voice := sc.Voice
	if voice == "" {
		voice = a.opts.Voice
	}

	var name string
	var args []string
	switch a.opts.Mode {
	case ModeSilent:
		if a.silence == nil {
			return fmt.Errorf("silent mode requires an audio renderer")
		}
		return a.silence.RenderSilence(ctx, sceneLength(sc), outFile)
	case ModeLocal:
		name = "espeak-ng"
		args = []string{"-v", espeakVoice(voice), "-w", outFile, sc.Narration}
	case ModeEdge:
		if voice == "" {
			voice = "en-US-GuyNeural"
		}
		name = "edge-tts"
		args = []string{"--voice", voice, "--text", sc.Narration, "--write-media", outFile}
	case ModeCommand:
		parts := strings.Fields(a.opts.Command)
		if len(parts) == 0 {
			return fmt.Errorf("TTS_COMMAND is empty")
		}
		if strings.HasSuffix(parts[0], ".py") {
			parts = append([]string{"python3"}, parts...)
		}
		name = parts[0]
		args = append(parts[1:], "--text", sc.Narration, "--output", outFile)
	default:
		return fmt.Errorf("unknown voice mode %q", a.opts.Mode)
	}

	b, err := a.run(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("%s: %w\n%s", name, err, string(b))
	}
	return nil
}

// espeak-ng does not know neural voice names
func espeakVoice(v string) string {
	if v == "" || strings.Contains(v, "Neural") {
		return defaultEspeakVoice
	}
	return v
}

func sceneLength(sc types.Scene) time.Duration {
	d := time.Duration(float64(sc.WordCount()) / types.DefaultWordsPerMinute * float64(time.Minute))
	if d < time.Second {
		d = time.Second
	}
	return d
}
