package ports

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/forPelevin/scriptreel/internal/types"
)

// Parser loads one script file and splits it into scenes.
// An empty scene list with a nil error means the script has nothing to narrate.
type Parser interface {
	Parse(ctx context.Context, path string) (types.Script, error)
}

// AudioGenerator renders narration for every scene in order.
// It returns one artifact per scene or an error; never a partial set.
type AudioGenerator interface {
	GenerateFromScenes(ctx context.Context, scenes []types.Scene, scriptName string, log logrus.FieldLogger) ([]types.AudioArtifact, error)
}

// VisualGenerator renders one image per scene, tagging degraded results as title cards.
type VisualGenerator interface {
	GenerateForScenes(ctx context.Context, scenes []types.Scene, scriptName, demoURL string, headless bool, log logrus.FieldLogger) ([]types.VisualArtifact, error)
}

// Assembler joins per-scene audio and visuals, in scene order, into one video.
type Assembler interface {
	Assemble(ctx context.Context, scriptName string, scenes []types.Scene, audio []types.AudioArtifact, visuals []types.VisualArtifact, log logrus.FieldLogger) (string, error)
}

// HistoryStore records finished runs.
type HistoryStore interface {
	SaveRun(ctx context.Context, s *types.RunSummary) error
	Close() error
}

// Publisher uploads run outputs to remote storage.
type Publisher interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}
