package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/forPelevin/scriptreel/internal/domain/scanner"
	"github.com/forPelevin/scriptreel/internal/ports"
	"github.com/forPelevin/scriptreel/internal/types"
)

type Stage string

const (
	StageParse    Stage = "parse"
	StageAudio    Stage = "audio"
	StageVisual   Stage = "visual"
	StageAssemble Stage = "assemble"
)

// State is where a script is in its pipeline. Transitions only move forward.
type State string

const (
	StateStarted    State = "started"
	StateParsed     State = "parsed"
	StateAudioDone  State = "audio_done"
	StateVisualDone State = "visual_done"
	StateAssembled  State = "assembled"
	StateFailed     State = "failed"
)

// StageError is a handled failure of one pipeline stage.
type StageError struct {
	Stage  Stage
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// LogSink is the per-script log. Close must be safe to call more than once.
type LogSink interface {
	Logger() logrus.FieldLogger
	Path() string
	Close() error
}

type Deps struct {
	Parser    ports.Parser
	Audio     ports.AudioGenerator
	Visual    ports.VisualGenerator
	Assembler ports.Assembler

	// OpenLog opens the log for one script. Nil disables per-script logs.
	OpenLog func(scriptName string) (LogSink, error)
	// Log is the run logger, used when no per-script log is open.
	Log logrus.FieldLogger
	Now func() time.Time
}

type Options struct {
	DemoURL  string
	Headless bool
	// StageTimeout bounds each collaborator call; zero means no bound.
	StageTimeout time.Duration
}

type Usecase struct {
	d    Deps
	opts Options
}

func New(d Deps, opts Options) Usecase {
	if d.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		d.Log = l
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return Usecase{d: d, opts: opts}
}

type scriptRun struct {
	res   *types.ScriptResult
	log   logrus.FieldLogger
	state State
	stage Stage
}

func (r *scriptRun) advance(s State) {
	r.state = s
	r.log.WithField("state", s).Debug("Pipeline state changed")
}

// ProcessScript runs parse, audio, visual and assemble for one script.
// Every failure, including a panic in a collaborator, ends up in the
// returned result; nothing propagates to the caller.
func (u Usecase) ProcessScript(ctx context.Context, desc types.ScriptDescriptor) (res types.ScriptResult) {
	res = types.NewScriptResult(desc)
	start := u.d.Now()

	r := &scriptRun{res: &res, log: u.d.Log.WithField("script", desc.Name), state: StateStarted}

	var sink LogSink
	if u.d.OpenLog != nil {
		s, err := u.d.OpenLog(desc.Name)
		if err != nil {
			r.log.WithError(err).Warn("Could not open script log, continuing without it")
		} else {
			sink = s
			p := s.Path()
			res.LogPath = &p
			r.log = s.Logger()
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			err := pkgerrors.Errorf("panic: %v", rec)
			msg := fmt.Sprintf("Error processing script: %v", err)
			r.log.WithField("stage", r.stage).Errorf("%s\n%+v", msg, err)
			res.Success = false
			res.VideoPath = nil
			res.FailedStage = string(r.stage)
			res.Errors = append(res.Errors, msg)
			r.state = StateFailed
		}
		res.DurationSeconds = u.d.Now().Sub(start).Seconds()
		if sink != nil {
			if err := sink.Close(); err != nil {
				u.d.Log.WithError(err).WithField("script", desc.Name).Warn("Closing script log failed")
			}
		}
	}()

	r.log.WithField("path", desc.Path).Info("Processing script")

	if err := u.pipeline(ctx, desc, r); err != nil {
		var se *StageError
		if !errors.As(err, &se) {
			se = &StageError{Stage: r.stage, Reason: "Error processing script", Err: err}
		}
		r.advance(StateFailed)
		res.FailedStage = string(se.Stage)
		res.Errors = append(res.Errors, se.Error())
		r.log.WithField("stage", se.Stage).WithError(se.Err).Error(se.Reason)
		return res
	}

	r.log.WithFields(logrus.Fields{
		"video":     *res.VideoPath,
		"fallbacks": len(res.Fallbacks),
	}).Info("Video created")
	return res
}

func (u Usecase) pipeline(ctx context.Context, desc types.ScriptDescriptor, r *scriptRun) error {
	res := r.res

	// parse
	r.stage = StageParse
	if err := scanner.Check(desc.Path); err != nil {
		return &StageError{Stage: StageParse, Reason: "Failed to load script", Err: err}
	}
	var script types.Script
	err := u.bounded(ctx, func(ctx context.Context) (err error) {
		script, err = u.d.Parser.Parse(ctx, desc.Path)
		return err
	})
	if err != nil {
		return &StageError{Stage: StageParse, Reason: "Failed to load script", Err: err}
	}
	if len(script.Scenes) == 0 {
		return &StageError{Stage: StageParse, Reason: "No scenes found in script"}
	}
	res.SceneCount = len(script.Scenes)
	res.WordCount = script.TotalWordCount()
	res.EstimatedSeconds = script.EstimateDuration().Seconds()
	r.log.WithFields(logrus.Fields{
		"scenes":    res.SceneCount,
		"words":     res.WordCount,
		"estimated": script.EstimateDuration().Round(time.Second),
	}).Info("Parsed script")
	r.advance(StateParsed)

	demoURL := u.opts.DemoURL
	if script.DemoURL != "" {
		demoURL = script.DemoURL
	}

	// audio
	r.stage = StageAudio
	var audio []types.AudioArtifact
	err = u.bounded(ctx, func(ctx context.Context) (err error) {
		audio, err = u.d.Audio.GenerateFromScenes(ctx, script.Scenes, desc.Name, r.log.WithField("stage", StageAudio))
		return err
	})
	if err != nil || len(audio) == 0 {
		res.Fallbacks = append(res.Fallbacks, "Audio generation failed, cannot continue")
		return &StageError{Stage: StageAudio, Reason: "No audio files were generated", Err: err}
	}
	if n, ok := missingScene(script.Scenes, audioIndexes(audio)); !ok {
		res.Fallbacks = append(res.Fallbacks, "Audio generation failed, cannot continue")
		return &StageError{Stage: StageAudio, Reason: fmt.Sprintf("No audio generated for scene %d", n)}
	}
	r.log.WithField("files", len(audio)).Info("Generated audio")
	r.advance(StateAudioDone)

	// visual
	r.stage = StageVisual
	var visuals []types.VisualArtifact
	err = u.bounded(ctx, func(ctx context.Context) (err error) {
		visuals, err = u.d.Visual.GenerateForScenes(ctx, script.Scenes, desc.Name, demoURL, u.opts.Headless, r.log.WithField("stage", StageVisual))
		return err
	})
	if err != nil || len(visuals) == 0 {
		res.Fallbacks = append(res.Fallbacks, "Visual generation failed")
		return &StageError{Stage: StageVisual, Reason: "No visual files were generated", Err: err}
	}
	if n, ok := missingScene(script.Scenes, visualIndexes(visuals)); !ok {
		res.Fallbacks = append(res.Fallbacks, "Visual generation failed")
		return &StageError{Stage: StageVisual, Reason: fmt.Sprintf("No visual generated for scene %d", n)}
	}
	cards := make(map[int]bool, len(visuals))
	for _, v := range visuals {
		if v.Type == types.VisualTitleCard {
			cards[v.SceneIndex] = true
		}
	}
	for _, sc := range script.Scenes {
		if cards[sc.Index] {
			res.Fallbacks = append(res.Fallbacks, fmt.Sprintf("Scene %d: used title card (capture unavailable)", sc.Index))
		}
	}
	r.log.WithFields(logrus.Fields{"files": len(visuals), "fallbacks": len(res.Fallbacks)}).Info("Generated visuals")
	r.advance(StateVisualDone)

	// assemble
	r.stage = StageAssemble
	var video string
	err = u.bounded(ctx, func(ctx context.Context) (err error) {
		video, err = u.d.Assembler.Assemble(ctx, desc.Name, script.Scenes, audio, visuals, r.log.WithField("stage", StageAssemble))
		return err
	})
	if err != nil || video == "" {
		return &StageError{Stage: StageAssemble, Reason: "Video assembly failed", Err: err}
	}
	res.Success = true
	res.VideoPath = &video
	r.advance(StateAssembled)
	return nil
}

// bounded runs fn under the stage timeout and names the timeout when it fires.
func (u Usecase) bounded(ctx context.Context, fn func(context.Context) error) error {
	if u.opts.StageTimeout <= 0 {
		return fn(ctx)
	}
	sctx, cancel := context.WithTimeout(ctx, u.opts.StageTimeout)
	defer cancel()
	err := fn(sctx)
	if err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("timed out after %s: %w", u.opts.StageTimeout, err)
	}
	return err
}

func audioIndexes(a []types.AudioArtifact) map[int]bool {
	m := make(map[int]bool, len(a))
	for _, x := range a {
		m[x.SceneIndex] = true
	}
	return m
}

func visualIndexes(v []types.VisualArtifact) map[int]bool {
	m := make(map[int]bool, len(v))
	for _, x := range v {
		m[x.SceneIndex] = true
	}
	return m
}

// missingScene returns the first scene index without an artifact.
func missingScene(scenes []types.Scene, have map[int]bool) (int, bool) {
	for _, sc := range scenes {
		if !have[sc.Index] {
			return sc.Index, false
		}
	}
	return 0, true
}
