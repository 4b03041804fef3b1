package capture

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forPelevin/scriptreel/internal/types"
)

type TitleCardRenderer interface {
	RenderTitleCard(ctx context.Context, title, subtitle, outPNG string) error
}

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

const defaultCaptureTimeout = time.Minute

type Options struct {
	OutDir      string
	BrowserPath string
	MmdcPath    string
	Width       int
	Height      int
	// CaptureTimeout bounds one diagram render or screenshot. A browser
	// started without --headless may never exit on its own.
	CaptureTimeout time.Duration
}

type Adapter struct {
	opts     Options
	cards    TitleCardRenderer
	run      Runner
	lookPath func(string) (string, error)
}

func New(opts Options, cards TitleCardRenderer) *Adapter {
	if opts.BrowserPath == "" {
		opts.BrowserPath = "chromium"
	}
	if opts.MmdcPath == "" {
		opts.MmdcPath = "mmdc"
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1920, 1080
	}
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = defaultCaptureTimeout
	}
	return &Adapter{opts: opts, cards: cards, run: execRunner, lookPath: exec.LookPath}
}

// WithRunner swaps the command runner and tool lookup.
func (a *Adapter) WithRunner(r Runner, lookPath func(string) (string, error)) *Adapter {
	a.run = r
	a.lookPath = lookPath
	return a
}

// GenerateForScenes renders {OutDir}/{script}_scene_NNN.png per scene.
// Diagrams go through mmdc, demo pages through a headless browser, and
// anything that cannot be captured becomes a title card. A scene whose
// title card also fails is left out.
func (a *Adapter) GenerateForScenes(
	ctx context.Context,
	scenes []types.Scene,
	scriptName, demoURL string,
	headless bool,
	log logrus.FieldLogger,
) ([]types.VisualArtifact, error) {
	if err := os.MkdirAll(a.opts.OutDir, 0o755); err != nil {
		return nil, err
	}

	out := make([]types.VisualArtifact, 0, len(scenes))
	for _, sc := range scenes {
		p := filepath.Join(a.opts.OutDir, types.SceneFileBase(scriptName, sc.Index)+".png")
		slog := log.WithField("scene", sc.Index)

		cctx, cancel := context.WithTimeout(ctx, a.opts.CaptureTimeout)
		captured, err := a.capture(cctx, sc, demoURL, headless, p)
		cancel()
		if err != nil {
			slog.WithError(err).Warn("Capture failed, falling back to title card")
		}
		if captured {
			slog.WithField("path", p).Info("Captured scene visual")
			out = append(out, types.VisualArtifact{SceneIndex: sc.Index, Path: p, Type: types.VisualCapture})
			continue
		}

		title, subtitle := cardText(scriptName, sc)
		if err := a.cards.RenderTitleCard(ctx, title, subtitle, p); err != nil {
			slog.WithError(err).Error("Title card failed, scene has no visual")
			continue
		}
		slog.WithField("path", p).Info("Rendered title card")
		out = append(out, types.VisualArtifact{SceneIndex: sc.Index, Path: p, Type: types.VisualTitleCard})
	}
	if len(out) == 0 && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return out, nil
}

// capture reports false with a nil error when the scene has nothing to
// capture or the needed tool is not installed.
func (a *Adapter) capture(ctx context.Context, sc types.Scene, demoURL string, headless bool, outPNG string) (bool, error) {
	if sc.Diagram != "" {
		if _, err := a.lookPath(a.opts.MmdcPath); err != nil {
			return false, nil
		}
		if err := a.renderDiagram(ctx, sc.Diagram, outPNG); err != nil {
			return false, err
		}
		return true, nil
	}

	target, err := ResolveDemo(demoURL, sc.Demo)
	if err != nil {
		return false, err
	}
	if target == "" {
		return false, nil
	}
	if _, err := a.lookPath(a.opts.BrowserPath); err != nil {
		return false, nil
	}
	if err := a.screenshot(ctx, target, headless, outPNG); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Adapter) renderDiagram(ctx context.Context, diagram, outPNG string) error {
	src := strings.TrimSuffix(outPNG, filepath.Ext(outPNG)) + ".mmd"
	if err := os.WriteFile(src, []byte(diagram), 0o644); err != nil {
		return err
	}
	defer os.Remove(src)

	b, err := a.run(ctx, a.opts.MmdcPath,
		"-i", src,
		"-o", outPNG,
		"-w", strconv.Itoa(a.opts.Width),
		"-H", strconv.Itoa(a.opts.Height),
		"-b", "white",
	)
	if err != nil {
		return fmt.Errorf("mmdc: %w\n%s", err, string(b))
	}
	return checkImage(outPNG)
}

func (a *Adapter) screenshot(ctx context.Context, target string, headless bool, outPNG string) error {
	var args []string
	if headless {
		args = append(args, "--headless=new")
	}
	args = append(args,
		"--disable-gpu",
		"--hide-scrollbars",
		"--no-first-run",
		fmt.Sprintf("--window-size=%d,%d", a.opts.Width, a.opts.Height),
		"--screenshot="+outPNG,
		target,
	)
	b, err := a.run(ctx, a.opts.BrowserPath, args...)
	if err != nil {
		return fmt.Errorf("browser screenshot: %w\n%s", err, string(b))
	}
	return checkImage(outPNG)
}

func checkImage(p string) error {
	fi, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("no image written: %w", err)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("empty image %s", p)
	}
	return nil
}

// ResolveDemo returns the page to capture for a scene: an absolute scene demo
// URL as is, a relative one joined onto base, or base itself when the scene
// names none. It returns "" when there is nothing to capture.
func ResolveDemo(base, demo string) (string, error) {
	demo = strings.TrimSpace(demo)
	base = strings.TrimSpace(base)
	if demo == "" {
		return base, nil
	}
	if d, err := url.Parse(demo); err == nil && d.IsAbs() {
		return demo, nil
	}
	if base == "" {
		return "", nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("demo url %q: %w", base, err)
	}
	path, query, _ := strings.Cut(demo, "?")
	j := u.JoinPath(path)
	if query != "" {
		j.RawQuery = query
	}
	return j.String(), nil
}

func cardText(scriptName string, sc types.Scene) (string, string) {
	title := strings.TrimSpace(sc.Title)
	if title == "" {
		title = fmt.Sprintf("Scene %d", sc.Index)
	}
	subtitle := strings.TrimSpace(sc.VisualHint)
	if subtitle == "" {
		subtitle = scriptName
	}
	return title, subtitle
}
