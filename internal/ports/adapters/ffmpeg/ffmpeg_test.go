package ffmpeg

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forPelevin/scriptreel/internal/types"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestEscapeFilterPath(t *testing.T) {
	t.Parallel()

	got := escapeFilterPath(`C:\out\it's.ass`)
	want := `C\:\\out\\it\'s.ass`
	if got != want {
		t.Fatalf("escapeFilterPath = %q, want %q", got, want)
	}
}

func TestFmtSeconds(t *testing.T) {
	t.Parallel()

	if got := fmtSeconds(1500 * time.Millisecond); got != "1.500" {
		t.Fatalf("fmtSeconds = %s", got)
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	a := New("", "", Options{})
	if a.ffmpeg != "ffmpeg" || a.ffprobe != "ffprobe" {
		t.Fatalf("unexpected binaries: %s %s", a.ffmpeg, a.ffprobe)
	}
	if a.opts.Width != 1920 || a.opts.Height != 1080 || a.opts.FPS != 30 {
		t.Fatalf("unexpected defaults: %+v", a.opts)
	}
}

func TestAssemble_RejectsUnpairedScenes(t *testing.T) {
	t.Parallel()

	a := New("ffmpeg", "ffprobe", Options{OutDir: t.TempDir()})
	scenes := []types.Scene{{Index: 1, Narration: "one"}, {Index: 2, Narration: "two"}}
	visuals := []types.VisualArtifact{{SceneIndex: 1, Path: "a.png"}, {SceneIndex: 2, Path: "b.png"}}

	_, err := a.Assemble(context.Background(), "demo", scenes, nil, visuals, quietLogger())
	if err == nil || !strings.Contains(err.Error(), "scene 1: no audio") {
		t.Fatalf("expected missing audio error, got %v", err)
	}

	_, err = a.Assemble(context.Background(), "demo", nil, nil, nil, quietLogger())
	if err == nil {
		t.Fatalf("expected error for empty scene list")
	}
}

func TestConcat_NoSegments(t *testing.T) {
	t.Parallel()

	a := New("", "", Options{})
	if err := a.Concat(context.Background(), nil, "out.mp4"); err == nil {
		t.Fatalf("expected error")
	}
}
