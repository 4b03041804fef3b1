package usecase

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forPelevin/scriptreel/internal/types"
)

func TestProcessScript_Success(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	res := f.uc(Options{}).ProcessScript(context.Background(), f.desc)

	if !res.Success {
		t.Fatalf("expected success, got errors %v", res.Errors)
	}
	if res.VideoPath == nil || *res.VideoPath != "/out/demo.mp4" {
		t.Fatalf("unexpected video path: %v", res.VideoPath)
	}
	if res.LogPath == nil || *res.LogPath != "/logs/demo_log.txt" {
		t.Fatalf("unexpected log path: %v", res.LogPath)
	}
	if res.FailedStage != "" || len(res.Errors) != 0 || len(res.Fallbacks) != 0 {
		t.Fatalf("unexpected failure info: %+v", res)
	}
	if res.SceneCount != 3 || res.WordCount != 6 {
		t.Fatalf("unexpected stats: scenes=%d words=%d", res.SceneCount, res.WordCount)
	}
	if f.audio.calls != 1 || f.visual.calls != 1 || f.assembler.calls != 1 {
		t.Fatalf("unexpected call counts: audio=%d visual=%d assemble=%d", f.audio.calls, f.visual.calls, f.assembler.calls)
	}
	if f.sink.closes != 1 {
		t.Fatalf("sink closed %d times", f.sink.closes)
	}
	if f.visual.demoURL != "https://demo.example.com" || !f.visual.headless {
		t.Fatalf("visual options not passed: %q %v", f.visual.demoURL, f.visual.headless)
	}
}

func TestProcessScript_TitleCardsAreFallbacksNotFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	f.visual.titleCards = map[int]bool{2: true, 4: true}
	res := f.uc(Options{}).ProcessScript(context.Background(), f.desc)

	if !res.Success {
		t.Fatalf("title cards must not fail the script: %v", res.Errors)
	}
	want := []string{
		"Scene 2: used title card (capture unavailable)",
		"Scene 4: used title card (capture unavailable)",
	}
	if len(res.Fallbacks) != len(want) {
		t.Fatalf("fallbacks = %v, want %v", res.Fallbacks, want)
	}
	for i := range want {
		if res.Fallbacks[i] != want[i] {
			t.Fatalf("fallback %d = %q, want %q", i, res.Fallbacks[i], want[i])
		}
	}
}

func TestProcessScript_FallbacksFollowSceneOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 4)
	f.visual.titleCards = map[int]bool{1: true, 3: true, 4: true}
	f.visual.reverse = true
	res := f.uc(Options{}).ProcessScript(context.Background(), f.desc)

	if !res.Success {
		t.Fatalf("expected success, got %v", res.Errors)
	}
	got := strings.Join(res.Fallbacks, "|")
	want := "Scene 1: used title card (capture unavailable)|Scene 3: used title card (capture unavailable)|Scene 4: used title card (capture unavailable)"
	if got != want {
		t.Fatalf("fallbacks = %q, want %q", got, want)
	}
}

func TestProcessScript_AudioIsAllOrNothing(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		setup func(*fakeAudio)
	}{
		{name: "empty", setup: func(a *fakeAudio) { a.empty = true }},
		{name: "error", setup: func(a *fakeAudio) { a.err = errors.New("espeak-ng: exit status 1") }},
		{name: "missing scene", setup: func(a *fakeAudio) { a.skip = 2 }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, 3)
			tc.setup(f.audio)
			res := f.uc(Options{}).ProcessScript(context.Background(), f.desc)

			if res.Success || res.FailedStage != string(StageAudio) {
				t.Fatalf("expected audio failure, got %+v", res)
			}
			if f.visual.calls != 0 || f.assembler.calls != 0 {
				t.Fatalf("later stages must not run: visual=%d assemble=%d", f.visual.calls, f.assembler.calls)
			}
			if len(res.Fallbacks) != 1 || res.Fallbacks[0] != "Audio generation failed, cannot continue" {
				t.Fatalf("unexpected fallbacks %v", res.Fallbacks)
			}
			if res.VideoPath != nil {
				t.Fatalf("failed script must not have a video")
			}
			if f.sink.closes != 1 {
				t.Fatalf("sink closed %d times", f.sink.closes)
			}
		})
	}
}

func TestProcessScript_StageFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		setup     func(*fixture)
		stage     Stage
		errPrefix string
	}{
		{
			name:      "no scenes",
			setup:     func(f *fixture) { f.parser.script.Scenes = nil },
			stage:     StageParse,
			errPrefix: "No scenes found in script",
		},
		{
			name:      "parser error",
			setup:     func(f *fixture) { f.parser.err = errors.New("bad frontmatter") },
			stage:     StageParse,
			errPrefix: "Failed to load script: bad frontmatter",
		},
		{
			name: "empty file",
			setup: func(f *fixture) {
				if err := os.WriteFile(f.desc.Path, nil, 0o644); err != nil {
					panic(err)
				}
			},
			stage:     StageParse,
			errPrefix: "Failed to load script: script is empty",
		},
		{
			name:      "no visuals",
			setup:     func(f *fixture) { f.visual.empty = true },
			stage:     StageVisual,
			errPrefix: "No visual files were generated",
		},
		{
			name:      "visual missing scene",
			setup:     func(f *fixture) { f.visual.skip = 3 },
			stage:     StageVisual,
			errPrefix: "No visual generated for scene 3",
		},
		{
			name:      "assembler error",
			setup:     func(f *fixture) { f.assembler.err = errors.New("ffmpeg concat: exit status 1") },
			stage:     StageAssemble,
			errPrefix: "Video assembly failed: ffmpeg concat",
		},
		{
			name:      "assembler empty path",
			setup:     func(f *fixture) { f.assembler.path = "" },
			stage:     StageAssemble,
			errPrefix: "Video assembly failed",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, 3)
			tc.setup(f)
			res := f.uc(Options{}).ProcessScript(context.Background(), f.desc)

			if res.Success {
				t.Fatalf("expected failure")
			}
			if res.FailedStage != string(tc.stage) {
				t.Fatalf("failed stage = %q, want %q", res.FailedStage, tc.stage)
			}
			if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], tc.errPrefix) {
				t.Fatalf("errors = %v, want prefix %q", res.Errors, tc.errPrefix)
			}
			if f.sink.closes != 1 {
				t.Fatalf("sink closed %d times", f.sink.closes)
			}
		})
	}
}

func TestProcessScript_PanicIsContained(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	f.visual.panicMsg = "nil map write"
	res := f.uc(Options{}).ProcessScript(context.Background(), f.desc)

	if res.Success {
		t.Fatalf("expected failure")
	}
	if res.FailedStage != string(StageVisual) {
		t.Fatalf("failed stage = %q", res.FailedStage)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "Error processing script") || !strings.Contains(res.Errors[0], "nil map write") {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if f.assembler.calls != 0 {
		t.Fatalf("assembler must not run after a panic")
	}
	if f.sink.closes != 1 {
		t.Fatalf("sink closed %d times", f.sink.closes)
	}
}

func TestProcessScript_StageTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	f.assembler.block = true
	res := f.uc(Options{StageTimeout: 20 * time.Millisecond}).ProcessScript(context.Background(), f.desc)

	if res.Success || res.FailedStage != string(StageAssemble) {
		t.Fatalf("expected assemble timeout, got %+v", res)
	}
	if !strings.Contains(res.Errors[0], "timed out after 20ms") {
		t.Fatalf("timeout not reported: %v", res.Errors)
	}
}

func TestProcessScript_LogOpenFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	uc := New(Deps{
		Parser:    f.parser,
		Audio:     f.audio,
		Visual:    f.visual,
		Assembler: f.assembler,
		OpenLog: func(string) (LogSink, error) {
			return nil, errors.New("read-only file system")
		},
	}, Options{})

	res := uc.ProcessScript(context.Background(), f.desc)
	if !res.Success {
		t.Fatalf("expected success, got %v", res.Errors)
	}
	if res.LogPath != nil {
		t.Fatalf("log path must stay unset when the log could not be opened")
	}
}

func TestProcessScript_ScriptDemoURLOverrides(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	f.parser.script.DemoURL = "https://script.example.com"
	f.uc(Options{DemoURL: "https://demo.example.com"}).ProcessScript(context.Background(), f.desc)

	if f.visual.demoURL != "https://script.example.com" {
		t.Fatalf("demo url = %q", f.visual.demoURL)
	}
}

type fixture struct {
	desc      types.ScriptDescriptor
	parser    *fakeParser
	audio     *fakeAudio
	visual    *fakeVisual
	assembler *fakeAssembler
	sink      *fakeSink
}

func newFixture(t *testing.T, scenes int) *fixture {
	t.Helper()

	p := filepath.Join(t.TempDir(), "demo.md")
	if err := os.WriteFile(p, []byte("## Scene\nnarration"), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	script := types.Script{Path: p, Title: "Demo"}
	for i := 1; i <= scenes; i++ {
		script.Scenes = append(script.Scenes, types.Scene{Index: i, Narration: "two words"})
	}
	return &fixture{
		desc:      types.ScriptDescriptor{Path: p, Name: "demo", Extension: ".md", Size: 18},
		parser:    &fakeParser{script: script},
		audio:     &fakeAudio{},
		visual:    &fakeVisual{},
		assembler: &fakeAssembler{path: "/out/demo.mp4"},
		sink:      &fakeSink{path: "/logs/demo_log.txt"},
	}
}

func (f *fixture) uc(opts Options) Usecase {
	if opts.DemoURL == "" {
		opts.DemoURL = "https://demo.example.com"
		opts.Headless = true
	}
	return New(Deps{
		Parser:    f.parser,
		Audio:     f.audio,
		Visual:    f.visual,
		Assembler: f.assembler,
		OpenLog: func(string) (LogSink, error) {
			return f.sink, nil
		},
	}, opts)
}

type fakeSink struct {
	path   string
	closes int
}

func (f *fakeSink) Logger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func (f *fakeSink) Path() string { return f.path }

func (f *fakeSink) Close() error {
	f.closes++
	return nil
}

type fakeParser struct {
	script types.Script
	err    error
}

func (f *fakeParser) Parse(_ context.Context, _ string) (types.Script, error) {
	return f.script, f.err
}

type fakeAudio struct {
	calls int
	empty bool
	skip  int
	err   error
}

func (f *fakeAudio) GenerateFromScenes(_ context.Context, scenes []types.Scene, name string, _ logrus.FieldLogger) ([]types.AudioArtifact, error) {
	f.calls++
	if f.err != nil || f.empty {
		return nil, f.err
	}
	var out []types.AudioArtifact
	for _, sc := range scenes {
		if sc.Index == f.skip {
			continue
		}
		out = append(out, types.AudioArtifact{SceneIndex: sc.Index, Path: types.SceneFileBase(name, sc.Index) + ".wav"})
	}
	return out, nil
}

type fakeVisual struct {
	calls      int
	empty      bool
	skip       int
	titleCards map[int]bool
	reverse    bool
	panicMsg   string
	demoURL    string
	headless   bool
}

func (f *fakeVisual) GenerateForScenes(_ context.Context, scenes []types.Scene, name, demoURL string, headless bool, _ logrus.FieldLogger) ([]types.VisualArtifact, error) {
	f.calls++
	f.demoURL = demoURL
	f.headless = headless
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.empty {
		return nil, nil
	}
	var out []types.VisualArtifact
	for _, sc := range scenes {
		if sc.Index == f.skip {
			continue
		}
		typ := types.VisualCapture
		if f.titleCards[sc.Index] {
			typ = types.VisualTitleCard
		}
		out = append(out, types.VisualArtifact{SceneIndex: sc.Index, Path: types.SceneFileBase(name, sc.Index) + ".png", Type: typ})
	}
	if f.reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

type fakeAssembler struct {
	calls int
	path  string
	err   error
	block bool
}

func (f *fakeAssembler) Assemble(ctx context.Context, _ string, _ []types.Scene, _ []types.AudioArtifact, _ []types.VisualArtifact, _ logrus.FieldLogger) (string, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.path, f.err
}
