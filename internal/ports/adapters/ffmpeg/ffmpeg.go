package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forPelevin/scriptreel/internal/domain/subtitles"
	"github.com/forPelevin/scriptreel/internal/types"
)

const (
	cardBackground = "0x1e1e2e"
	cardForeground = "0xf5f5f5"
)

// Options controls the rendered output. Zero values fall back to 1920x1080 at 30 fps.
type Options struct {
	Width         int
	Height        int
	FPS           int
	OutDir        string
	BurnSubtitles bool
}

type Adapter struct {
	ffmpeg  string
	ffprobe string
	opts    Options
}

func New(ffmpegPath, ffprobePath string, opts Options) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1920, 1080
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.OutDir == "" {
		opts.OutDir = "video_output"
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath, opts: opts}
}

// RenderTitleCard draws title and subtitle centred on a flat background.
func (a *Adapter) RenderTitleCard(ctx context.Context, title, subtitle, outPNG string) error {
	if err := os.MkdirAll(filepath.Dir(outPNG), 0o755); err != nil {
		return err
	}
	// drawtext reads from files so titles need no filter escaping
	titleFile, err := writeTemp(filepath.Dir(outPNG), title)
	if err != nil {
		return err
	}
	defer os.Remove(titleFile)
	subFile, err := writeTemp(filepath.Dir(outPNG), subtitle)
	if err != nil {
		return err
	}
	defer os.Remove(subFile)

	h := a.opts.Height
	vf := strings.Join([]string{
		drawText(titleFile, h*72/1080, "(h-text_h)/2-"+strconv.Itoa(h*40/1080)),
		drawText(subFile, h*40/1080, "(h/2)+"+strconv.Itoa(h*50/1080)),
	}, ",")

	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=%s:s=%dx%d:d=1", cardBackground, a.opts.Width, a.opts.Height),
		"-vf", vf,
		"-frames:v", "1",
		outPNG,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg render title card: %w\n%s", err, string(b))
	}
	return nil
}

// RenderSilence writes a silent mono wav of length d.
func (a *Adapter) RenderSilence(ctx context.Context, d time.Duration, outWav string) error {
	if d <= 0 {
		d = time.Second
	}
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-y",
		"-f", "lavfi",
		"-i", "anullsrc=r=44100:cl=mono",
		"-t", fmtSeconds(d),
		outWav,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg render silence: %w\n%s", err, string(b))
	}
	return nil
}

// RenderSegment loops a still image for dur over the given audio track.
func (a *Adapter) RenderSegment(ctx context.Context, image, audio string, dur time.Duration, outMP4, burnASS string) error {
	w, h := a.opts.Width, a.opts.Height
	vf := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1", w, h, w, h)
	if burnASS != "" {
		vf += ",subtitles=" + escapeFilterPath(burnASS)
	}
	fps := strconv.Itoa(a.opts.FPS)
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-y",
		"-loop", "1",
		"-framerate", fps,
		"-i", image,
		"-i", audio,
		"-t", fmtSeconds(dur),
		"-vf", vf,
		"-r", fps,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "18",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192k",
		"-ar", "44100",
		"-ac", "2",
		"-shortest",
		outMP4,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg render segment: %w\n%s", err, string(b))
	}
	return nil
}

// Concat joins segments in the given order without re-encoding.
func (a *Adapter) Concat(ctx context.Context, segments []string, outMP4 string) error {
	if len(segments) == 0 {
		return fmt.Errorf("ffmpeg concat: no segments")
	}
	var lines []string
	for _, s := range segments {
		abs, err := filepath.Abs(s)
		if err != nil {
			return err
		}
		lines = append(lines, "file '"+strings.ReplaceAll(abs, "'", `'\''`)+"'")
	}
	listFile := strings.TrimSuffix(outMP4, filepath.Ext(outMP4)) + "_concat.txt"
	if err := os.WriteFile(listFile, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return err
	}
	defer os.Remove(listFile)

	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		"-movflags", "+faststart",
		outMP4,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg concat: %w\n%s", err, string(b))
	}
	return nil
}

func (a *Adapter) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w\n%s", err, string(b))
	}
	s := strings.TrimSpace(string(b))
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return time.Duration(sec * float64(time.Second)), nil
}

// Assemble renders one segment per scene and concatenates them into
// {OutDir}/{scriptName}.mp4. Audio and visuals are paired by scene index.
func (a *Adapter) Assemble(
	ctx context.Context,
	scriptName string,
	scenes []types.Scene,
	audio []types.AudioArtifact,
	visuals []types.VisualArtifact,
	log logrus.FieldLogger,
) (string, error) {
	if len(scenes) == 0 {
		return "", fmt.Errorf("assemble %s: no scenes", scriptName)
	}
	audioBy := make(map[int]string, len(audio))
	for _, ar := range audio {
		audioBy[ar.SceneIndex] = ar.Path
	}
	visualBy := make(map[int]string, len(visuals))
	for _, vr := range visuals {
		visualBy[vr.SceneIndex] = vr.Path
	}

	segDir := filepath.Join(a.opts.OutDir, "visuals", "segments")
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return "", err
	}

	segments := make([]string, 0, len(scenes))
	for _, sc := range scenes {
		ap, ok := audioBy[sc.Index]
		if !ok {
			return "", fmt.Errorf("scene %d: no audio", sc.Index)
		}
		vp, ok := visualBy[sc.Index]
		if !ok {
			return "", fmt.Errorf("scene %d: no visual", sc.Index)
		}

		dur, err := a.ProbeDuration(ctx, ap)
		if err != nil {
			return "", fmt.Errorf("scene %d: %w", sc.Index, err)
		}

		base := types.SceneFileBase(scriptName, sc.Index)
		var assPath string
		if a.opts.BurnSubtitles {
			assPath = filepath.Join(segDir, base+".ass")
			ass := subtitles.RenderNarrationASS(sc.Narration, dur, a.opts.Width, a.opts.Height)
			if err := os.WriteFile(assPath, []byte(ass), 0o644); err != nil {
				return "", err
			}
		}

		seg := filepath.Join(segDir, base+".mp4")
		log.WithFields(logrus.Fields{"scene": sc.Index, "duration": dur.Round(time.Millisecond)}).Debug("Rendering segment")
		if err := a.RenderSegment(ctx, vp, ap, dur, seg, assPath); err != nil {
			return "", fmt.Errorf("scene %d: %w", sc.Index, err)
		}
		segments = append(segments, seg)
	}

	out := filepath.Join(a.opts.OutDir, scriptName+".mp4")
	if err := a.Concat(ctx, segments, out); err != nil {
		return "", err
	}
	log.WithField("segments", len(segments)).Info("Concatenated scene segments")
	return out, nil
}

func drawText(textFile string, size int, y string) string {
	return fmt.Sprintf("drawtext=textfile=%s:fontcolor=%s:fontsize=%d:x=(w-text_w)/2:y=%s",
		escapeFilterPath(textFile), cardForeground, size, y)
}

func writeTemp(dir, text string) (string, error) {
	f, err := os.CreateTemp(dir, ".card-*.txt")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return "", err
	}
	return f.Name(), f.Close()
}

func fmtSeconds(d time.Duration) string {
	sec := float64(d) / float64(time.Second)
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "\\\\")
	p = strings.ReplaceAll(p, ":", "\\:")
	p = strings.ReplaceAll(p, "'", "\\'")
	return p
}
