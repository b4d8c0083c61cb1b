package stages

import (
	"context"

	"github.com/patchlab-ai/patchlab-go/internal/domain"
	"github.com/patchlab-ai/patchlab-go/internal/pipeline"
)

// inferEntryPoint evaluates a registered model on a dataset produced by
// a prior run, without retraining.
func inferEntryPoint() pipeline.EntryPoint {
	return pipeline.EntryPoint{
		Name: "infer",
		Schema: pipeline.Schema{
			Params: []pipeline.ParamSpec{
				{Name: "model_name", Kind: pipeline.KindString, Required: true},
				{Name: "model_version", Kind: pipeline.KindString, Default: "latest"},
				{Name: "run_id", Kind: pipeline.KindString, Required: true},
				{Name: "adv_tar_name", Kind: pipeline.KindString, Default: initModelTarName},
				{Name: "adv_data_dir", Kind: pipeline.KindString, Default: initModelFolderName},
				{Name: "imagenet_preprocessing", Kind: pipeline.KindBool, Default: false},
				batchSizeSpec(),
				seedSpec(),
			},
			Check: checkModelVersion,
		},
		InputRunIDs: func(p pipeline.Params) []string {
			return []string{p.String("run_id")}
		},
		Run: runInfer,
	}
}

func runInfer(ctx context.Context, sc pipeline.StageContext) (pipeline.StageResult, error) {
	m, version, err := loadModel(ctx, sc.Models, sc.Params.String("model_name"), sc.Params.String("model_version"))
	if err != nil {
		return pipeline.StageResult{}, err
	}

	ref := domain.ArtifactRef(
		sc.Params.String("run_id"),
		sc.Params.String("adv_tar_name"),
		sc.Params.String("adv_data_dir"),
	)
	ds, cleanup, err := sc.Resolver.Resolve(ctx, ref)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	defer cleanup()

	metrics, err := m.Evaluate(ds, sc.Params.Bool("imagenet_preprocessing"))
	if err != nil {
		return pipeline.StageResult{}, err
	}
	sc.Logger.Info("inference finished",
		"model", sc.Params.String("model_name"), "version", version,
		"accuracy", metrics.Accuracy, "images", metrics.N)

	return pipeline.StageResult{Metrics: evalMetrics(metrics)}, nil
}
