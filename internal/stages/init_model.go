package stages

import (
	"context"
	"fmt"

	"github.com/patchlab-ai/patchlab-go/internal/artifacts"
	"github.com/patchlab-ai/patchlab-go/internal/domain"
	"github.com/patchlab-ai/patchlab-go/internal/model"
	"github.com/patchlab-ai/patchlab-go/internal/pipeline"
)

// init_model publishes the evaluation set under these names so a later
// infer run can reference it by run id with the default artifact names.
const (
	initModelTarName    = "testing_dataset.tar.gz"
	initModelFolderName = "testing_data"
)

// initModelEntryPoint loads a pretrained architecture without training,
// evaluates it on the given test set and registers the result.
func initModelEntryPoint() pipeline.EntryPoint {
	return pipeline.EntryPoint{
		Name: "init_model",
		Schema: pipeline.Schema{
			Params: []pipeline.ParamSpec{
				{Name: "data_dir", Kind: pipeline.KindString, Required: true},
				{Name: "model_architecture", Kind: pipeline.KindEnum, Required: true, Enum: []string{
					string(domain.ArchResNet50), string(domain.ArchVGG16),
				}},
				{Name: "register_model_name", Kind: pipeline.KindString, Required: true},
				{Name: "imagenet_preprocessing", Kind: pipeline.KindBool, Default: false},
				batchSizeSpec(),
				seedSpec(),
			},
		},
		Run: runInitModel,
	}
}

func runInitModel(ctx context.Context, sc pipeline.StageContext) (pipeline.StageResult, error) {
	ds, cleanup, err := sc.Resolver.Resolve(ctx, domain.DirectoryRef(sc.Params.String("data_dir")))
	if err != nil {
		return pipeline.StageResult{}, err
	}
	defer cleanup()

	arch := domain.Architecture(sc.Params.String("model_architecture"))
	m, err := model.Pretrained(arch, ds.Labels())
	if err != nil {
		return pipeline.StageResult{}, err
	}

	metrics, err := m.Evaluate(ds, sc.Params.Bool("imagenet_preprocessing"))
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("evaluate pretrained model: %w", err)
	}
	sc.Logger.Info("pretrained model evaluated", "architecture", arch, "accuracy", metrics.Accuracy, "images", metrics.N)

	blob, err := model.Encode(m)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	return pipeline.StageResult{
		Metrics: evalMetrics(metrics),
		Models: []pipeline.PendingModel{{
			Name:         sc.Params.String("register_model_name"),
			Architecture: arch,
			Blob:         blob,
		}},
		Tarballs: []pipeline.PendingTarball{{
			TarName: initModelTarName,
			Folders: []artifacts.Folder{datasetFolder(initModelFolderName, ds)},
		}},
	}, nil
}
