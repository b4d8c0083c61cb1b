// Package stages defines the pipeline's transform stages: named entry
// points binding a parameter schema to a stage function. Stages read
// through the resolver and registry handed to them and return their
// outputs pending; persistence is the runner's job.
package stages

import (
	"context"
	"errors"

	"github.com/patchlab-ai/patchlab-go/internal/artifacts"
	"github.com/patchlab-ai/patchlab-go/internal/domain"
	"github.com/patchlab-ai/patchlab-go/internal/imageset"
	"github.com/patchlab-ai/patchlab-go/internal/model"
	"github.com/patchlab-ai/patchlab-go/internal/pipeline"
	"github.com/patchlab-ai/patchlab-go/internal/registry"
)

// All returns every entry point the pipeline exposes.
func All() []pipeline.EntryPoint {
	return []pipeline.EntryPoint{
		initModelEntryPoint(),
		trainEntryPoint(),
		inferEntryPoint(),
		genPatchEntryPoint(),
		deployPatchEntryPoint(),
		spatialSmoothingEntryPoint(),
		jpegCompressionEntryPoint(),
		gaussianAugmentationEntryPoint(),
	}
}

func seedSpec() pipeline.ParamSpec {
	return pipeline.ParamSpec{Name: "seed", Kind: pipeline.KindInt, Default: 0}
}

func batchSizeSpec() pipeline.ParamSpec {
	return pipeline.ParamSpec{Name: "batch_size", Kind: pipeline.KindInt, Default: 32, Min: pipeline.Min(1)}
}

// datasetFolder packs a dataset's items into an artifact folder,
// carrying the encoded bytes through untouched.
func datasetFolder(name string, ds *imageset.Dataset) artifacts.Folder {
	files := make([]artifacts.File, 0, len(ds.Items))
	for _, it := range ds.Items {
		files = append(files, artifacts.File{Path: it.Path, Data: it.Data})
	}
	return artifacts.Folder{Name: name, Files: files}
}

// loadModel resolves and decodes a registered model. The version value
// is the wire form: a positive integer, "none" or "latest".
func loadModel(ctx context.Context, models pipeline.ModelRegistry, name, versionValue string) (*model.Model, int, error) {
	version, err := domain.ParseModelVersion(versionValue)
	if err != nil {
		return nil, 0, &pipeline.ValidationError{Param: "model_version", Constraint: err.Error()}
	}
	blob, resolved, err := models.Get(ctx, domain.ModelRef{Name: name, Version: version})
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, 0, &pipeline.NotFoundError{Name: name, Version: version}
		}
		return nil, 0, err
	}
	m, err := model.Decode(blob)
	if err != nil {
		return nil, 0, err
	}
	return m, resolved, nil
}

func evalMetrics(metrics model.Metrics) domain.Metadata {
	return domain.Metadata{
		"accuracy": metrics.Accuracy,
		"loss":     metrics.Loss,
		"n":        metrics.N,
	}
}

// checkModelVersion is the schema-time validation of the model_version
// wire form.
func checkModelVersion(p pipeline.Params) *pipeline.ValidationError {
	if _, err := domain.ParseModelVersion(p.String("model_version")); err != nil {
		return &pipeline.ValidationError{Param: "model_version", Constraint: err.Error()}
	}
	return nil
}
