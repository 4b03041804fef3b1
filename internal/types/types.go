package types

import (
	"fmt"
	"strings"
	"time"
)

const DefaultWordsPerMinute = 150

// ScriptDescriptor is one discovered script file. Path is clean and absolute.
type ScriptDescriptor struct {
	Path      string `json:"path"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Size      int64  `json:"size"`
}

// Script is the parsed form of a script file.
type Script struct {
	Path           string
	Title          string
	DemoURL        string
	Voice          string
	WordsPerMinute int
	Scenes         []Scene
}

// TotalWordCount sums narration words over all scenes.
func (s Script) TotalWordCount() int {
	n := 0
	for _, sc := range s.Scenes {
		n += sc.WordCount()
	}
	return n
}

// EstimateDuration is the spoken length of the narration at the script's pace.
func (s Script) EstimateDuration() time.Duration {
	wpm := s.WordsPerMinute
	if wpm <= 0 {
		wpm = DefaultWordsPerMinute
	}
	return time.Duration(float64(s.TotalWordCount()) / float64(wpm) * float64(time.Minute))
}

// Scene is one narrated unit. Index is 1-based and contiguous within a script.
type Scene struct {
	Index      int    `json:"index"`
	Title      string `json:"title"`
	Narration  string `json:"narration"`
	Diagram    string `json:"diagram,omitempty"`
	Demo       string `json:"demo,omitempty"`
	VisualHint string `json:"visual_hint,omitempty"`
	Voice      string `json:"voice,omitempty"`
}

func (s Scene) WordCount() int { return len(strings.Fields(s.Narration)) }

// SceneFileBase names a per-scene artifact, e.g. "intro_scene_003".
func SceneFileBase(scriptName string, index int) string {
	return fmt.Sprintf("%s_scene_%03d", scriptName, index)
}

type AudioArtifact struct {
	SceneIndex int    `json:"scene_index"`
	Path       string `json:"path"`
}

type VisualType string

const (
	VisualCapture   VisualType = "capture"
	VisualTitleCard VisualType = "title_card"
)

type VisualArtifact struct {
	SceneIndex int        `json:"scene_index"`
	Path       string     `json:"path"`
	Type       VisualType `json:"type"`
}

// ScriptResult is the outcome of producing one script. Errors and Fallbacks keep insertion order.
type ScriptResult struct {
	ScriptName       string   `json:"script_name"`
	ScriptPath       string   `json:"script_path"`
	Success          bool     `json:"success"`
	VideoPath        *string  `json:"video_path"`
	LogPath          *string  `json:"log_path"`
	Errors           []string `json:"errors"`
	Fallbacks        []string `json:"fallbacks"`
	FailedStage      string   `json:"failed_stage,omitempty"`
	SceneCount       int      `json:"scene_count"`
	WordCount        int      `json:"word_count"`
	EstimatedSeconds float64  `json:"estimated_seconds"`
	DurationSeconds  float64  `json:"duration_seconds"`
}

func NewScriptResult(d ScriptDescriptor) ScriptResult {
	return ScriptResult{
		ScriptName: d.Name,
		ScriptPath: d.Path,
		Errors:     []string{},
		Fallbacks:  []string{},
	}
}

// RunSummary aggregates one run. VideosCreated and VideosFailed partition every processed script.
type RunSummary struct {
	RunID           string            `json:"run_id"`
	StartTime       time.Time         `json:"start_time"`
	EndTime         time.Time         `json:"end_time"`
	DurationSeconds float64           `json:"duration_seconds"`
	Config          map[string]string `json:"config"`
	ScriptsFound    int               `json:"scripts_found"`
	VideosCreated   []ScriptResult    `json:"videos_created"`
	VideosFailed    []ScriptResult    `json:"videos_failed"`
	SuccessCount    int               `json:"success_count"`
	FailureCount    int               `json:"failure_count"`
	Logs            []string          `json:"logs"`
}

func NewRunSummary(runID string, start time.Time, cfg map[string]string) *RunSummary {
	return &RunSummary{
		RunID:         runID,
		StartTime:     start,
		Config:        cfg,
		VideosCreated: []ScriptResult{},
		VideosFailed:  []ScriptResult{},
		Logs:          []string{},
	}
}

// Add files a finished result into its bucket and keeps the counters in step.
func (s *RunSummary) Add(r ScriptResult) {
	if r.Success {
		s.VideosCreated = append(s.VideosCreated, r)
	} else {
		s.VideosFailed = append(s.VideosFailed, r)
	}
	s.SuccessCount = len(s.VideosCreated)
	s.FailureCount = len(s.VideosFailed)
}

func (s *RunSummary) Finish(end time.Time) {
	s.EndTime = end
	s.DurationSeconds = end.Sub(s.StartTime).Seconds()
}
