package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/forPelevin/scriptreel/internal/types"
)

const (
	JSONName = "production_summary.json"
	TextName = "production_summary.txt"
)

var (
	heavyRule = strings.Repeat("=", 80)
	lightRule = strings.Repeat("-", 80)
)

// RenderText is the human-readable form of a run summary.
func RenderText(s *types.RunSummary) string {
	var b strings.Builder
	b.WriteString("VIDEO PRODUCTION SUMMARY\n")
	b.WriteString(heavyRule + "\n\n")
	if s.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", s.RunID)
	}
	fmt.Fprintf(&b, "Start time: %s\n", s.StartTime.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(&b, "End time: %s\n", s.EndTime.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(&b, "Duration: %.1f seconds\n\n", s.DurationSeconds)

	fmt.Fprintf(&b, "Scripts found: %d\n", s.ScriptsFound)
	fmt.Fprintf(&b, "Videos created: %d\n", s.SuccessCount)
	fmt.Fprintf(&b, "Videos failed: %d\n\n", s.FailureCount)

	if len(s.VideosCreated) > 0 {
		b.WriteString("SUCCESSFUL VIDEOS:\n")
		b.WriteString(lightRule + "\n")
		for _, r := range s.VideosCreated {
			fmt.Fprintf(&b, "  %s\n", r.ScriptName)
			fmt.Fprintf(&b, "    Video: %s\n", orDash(r.VideoPath))
			fmt.Fprintf(&b, "    Log: %s\n", orDash(r.LogPath))
			if len(r.Fallbacks) > 0 {
				b.WriteString("    Fallbacks used:\n")
				for _, fb := range r.Fallbacks {
					fmt.Fprintf(&b, "      - %s\n", fb)
				}
			}
			b.WriteString("\n")
		}
	}

	if len(s.VideosFailed) > 0 {
		b.WriteString("\nFAILED VIDEOS:\n")
		b.WriteString(lightRule + "\n")
		for _, r := range s.VideosFailed {
			fmt.Fprintf(&b, "  %s\n", r.ScriptName)
			if r.FailedStage != "" {
				fmt.Fprintf(&b, "    Stage: %s\n", r.FailedStage)
			}
			if r.LogPath != nil {
				fmt.Fprintf(&b, "    Log: %s\n", *r.LogPath)
			}
			if len(r.Errors) > 0 {
				b.WriteString("    Errors:\n")
				for _, e := range r.Errors {
					fmt.Fprintf(&b, "      - %s\n", e)
				}
			}
			if len(r.Fallbacks) > 0 {
				b.WriteString("    Fallbacks used:\n")
				for _, fb := range r.Fallbacks {
					fmt.Fprintf(&b, "      - %s\n", fb)
				}
			}
			b.WriteString("\n")
		}
	}

	if len(s.Logs) > 0 {
		b.WriteString("\nRUN MESSAGES:\n")
		b.WriteString(lightRule + "\n")
		for _, l := range s.Logs {
			fmt.Fprintf(&b, "  %s\n", l)
		}
	}
	return b.String()
}

// Write stores the JSON and text summaries in dir and returns their paths.
func Write(dir string, s *types.RunSummary) (jsonPath, textPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", errors.Wrap(err, "create summary dir")
	}

	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", "", errors.Wrap(err, "marshal summary")
	}
	jsonPath = filepath.Join(dir, JSONName)
	if err := os.WriteFile(jsonPath, b, 0o644); err != nil {
		return "", "", errors.Wrap(err, "write json summary")
	}

	textPath = filepath.Join(dir, TextName)
	if err := os.WriteFile(textPath, []byte(RenderText(s)), 0o644); err != nil {
		return jsonPath, "", errors.Wrap(err, "write text summary")
	}
	return jsonPath, textPath, nil
}

func orDash(p *string) string {
	if p == nil || *p == "" {
		return "-"
	}
	return *p
}
