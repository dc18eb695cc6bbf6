package model

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/codec"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Bundle is a loaded classifier with its feature schema.
type Bundle struct {
	Classifier *Booster
	Encoder    *OneHotEncoder
	Codec      *codec.Codec

	// Version identifies the pair of artifacts, e.g. "sha256:ab12cd34ef56/sha256:0123456789ab".
	Version string
}

// Load reads the model and encoder artifacts and validates the schema once.
// Every failure is reported as ErrModelUnavailable.
func Load(ctx context.Context, store domain.ArtifactStore, cfg domain.ModelConfig) (*Bundle, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: no artifact store configured", domain.ErrModelUnavailable)
	}

	modelArt, err := store.Get(ctx, cfg.ModelArtifact)
	if err != nil {
		return nil, fmt.Errorf("%w: model artifact %q: %w", domain.ErrModelUnavailable, cfg.ModelArtifact, err)
	}
	encoderArt, err := store.Get(ctx, cfg.EncoderArtifact)
	if err != nil {
		return nil, fmt.Errorf("%w: encoder artifact %q: %w", domain.ErrModelUnavailable, cfg.EncoderArtifact, err)
	}

	bundle, err := FromBytes(modelArt.Data, encoderArt.Data)
	if err != nil {
		return nil, err
	}
	bundle.Version = shortChecksum(modelArt.Checksum) + "/" + shortChecksum(encoderArt.Checksum)

	slog.Info("model loaded",
		"model", cfg.ModelArtifact,
		"encoder", cfg.EncoderArtifact,
		"trees", bundle.Classifier.NumTrees(),
		"columns", len(bundle.Classifier.FeatureNames()),
		"xgboost_version", bundle.Classifier.Version(),
		"version", bundle.Version,
	)

	return bundle, nil
}

// FromBytes parses both artifacts and resolves the schema.
func FromBytes(modelData, encoderData []byte) (*Bundle, error) {
	booster, err := ParseBooster(modelData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrModelUnavailable, err)
	}
	encoder, err := ParseEncoder(encoderData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrModelUnavailable, err)
	}
	c, err := codec.New(encoder, booster.FeatureNames())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrModelUnavailable, err)
	}
	return &Bundle{
		Classifier: booster,
		Encoder:    encoder,
		Codec:      c,
		Version:    booster.Version(),
	}, nil
}

func shortChecksum(sum string) string {
	const keep = len("sha256:") + 12
	if len(sum) > keep {
		return sum[:keep]
	}
	return sum
}
