// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classifier

import (
	"log/slog"
	"path/filepath"

	"github.com/AleutianAI/commitsentry/services/features"
)

// Artifact file names inside the artifact directory.
const (
	TimeModelFile     = "time_anomaly_model.yaml"
	OnlineModelFile   = "vulnerability_online_model.yaml"
	BatchModelFile    = "vulnerability_batch_model.yaml"
	TextTransformFile = "text_transform.yaml"
)

// Artifacts holds every pre-trained artifact, loaded once at startup and
// shared read-only by all requests. A nil field means that artifact is
// unavailable and its scorer is disabled.
type Artifacts struct {
	TimeModel   Model
	OnlineModel Model
	BatchModel  Model
	Text        *features.TextTransform
}

// LoadArtifacts loads every artifact from dir. It never fails: an artifact
// that is missing or corrupt is left nil and a warning is logged once.
func LoadArtifacts(dir string, logger *slog.Logger) *Artifacts {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Artifacts{}

	load := func(name, scorer string) Model {
		path := filepath.Join(dir, name)
		m, err := LoadModel(path)
		if err != nil {
			logger.Warn("model artifact unavailable, scorer disabled",
				slog.String("scorer", scorer),
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}
		logger.Info("model artifact loaded",
			slog.String("scorer", scorer),
			slog.String("kind", m.Kind()),
			slog.String("version", m.Version()),
			slog.Int("features", len(m.Features())))
		return m
	}

	a.TimeModel = load(TimeModelFile, "time_anomaly")
	a.OnlineModel = load(OnlineModelFile, "vulnerability_online")
	a.BatchModel = load(BatchModelFile, "vulnerability_batch")

	textPath := filepath.Join(dir, TextTransformFile)
	text, err := features.LoadTextTransform(textPath)
	if err != nil {
		logger.Warn("text transform unavailable, text features disabled",
			slog.String("path", textPath),
			slog.String("error", err.Error()))
	} else {
		a.Text = text
	}
	return a
}
