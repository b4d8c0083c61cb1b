package stages

import (
	"context"
	"strings"

	"github.com/patchlab-ai/patchlab-go/internal/domain"
	"github.com/patchlab-ai/patchlab-go/internal/model"
	"github.com/patchlab-ai/patchlab-go/internal/pipeline"
)

// trainEntryPoint trains the named architecture from scratch. The
// training set comes from a local directory, or from a prior run's
// artifact when load_dataset_from_mlruns is set.
func trainEntryPoint() pipeline.EntryPoint {
	return pipeline.EntryPoint{
		Name: "train",
		Schema: pipeline.Schema{
			Params: []pipeline.ParamSpec{
				{Name: "data_dir", Kind: pipeline.KindString},
				{Name: "load_dataset_from_mlruns", Kind: pipeline.KindBool, Default: false},
				{Name: "dataset_run_id_training", Kind: pipeline.KindString},
				{Name: "adv_tar_name", Kind: pipeline.KindString},
				{Name: "adv_data_dir", Kind: pipeline.KindString},
				{Name: "model_architecture", Kind: pipeline.KindEnum, Required: true, Enum: []string{
					string(domain.ArchLeNet), string(domain.ArchShallowNet), string(domain.ArchAlexNet),
					string(domain.ArchResNet50), string(domain.ArchVGG16),
				}},
				{Name: "optimizer", Kind: pipeline.KindEnum, Default: string(domain.OptAdam), Enum: []string{
					string(domain.OptRMSProp), string(domain.OptAdam), string(domain.OptAdagrad), string(domain.OptSGD),
				}},
				{Name: "learning_rate", Kind: pipeline.KindFloat, Default: 0.001, Min: pipeline.MinExclusive(0)},
				{Name: "validation_split", Kind: pipeline.KindFloat, Default: 0.2, Min: pipeline.Min(0), Max: pipeline.Max(1)},
				{Name: "register_model_name", Kind: pipeline.KindString, Required: true},
				batchSizeSpec(),
				seedSpec(),
			},
			Check: checkTrainParams,
		},
		InputRunIDs: func(p pipeline.Params) []string {
			if p.Bool("load_dataset_from_mlruns") {
				return []string{p.String("dataset_run_id_training")}
			}
			return nil
		},
		Run: runTrain,
	}
}

// When loading from a prior run all three artifact coordinates are
// mandatory; otherwise they are ignored even if supplied.
func checkTrainParams(p pipeline.Params) *pipeline.ValidationError {
	if p.Bool("load_dataset_from_mlruns") {
		for _, name := range []string{"dataset_run_id_training", "adv_tar_name", "adv_data_dir"} {
			if strings.TrimSpace(p.String(name)) == "" {
				return &pipeline.ValidationError{Param: name, Constraint: "required when load_dataset_from_mlruns is true"}
			}
		}
		return nil
	}
	if strings.TrimSpace(p.String("data_dir")) == "" {
		return &pipeline.ValidationError{Param: "data_dir", Constraint: "required when load_dataset_from_mlruns is false"}
	}
	return nil
}

func runTrain(ctx context.Context, sc pipeline.StageContext) (pipeline.StageResult, error) {
	var ref domain.DatasetRef
	if sc.Params.Bool("load_dataset_from_mlruns") {
		ref = domain.ArtifactRef(
			sc.Params.String("dataset_run_id_training"),
			sc.Params.String("adv_tar_name"),
			sc.Params.String("adv_data_dir"),
		)
	} else {
		ref = domain.DirectoryRef(sc.Params.String("data_dir"))
	}
	ds, cleanup, err := sc.Resolver.Resolve(ctx, ref)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	defer cleanup()

	arch := domain.Architecture(sc.Params.String("model_architecture"))
	m, metrics, err := model.Train(arch, ds, model.TrainOptions{
		Optimizer:       domain.Optimizer(sc.Params.String("optimizer")),
		LearningRate:    sc.Params.Float("learning_rate"),
		BatchSize:       sc.Params.Int("batch_size"),
		ValidationSplit: sc.Params.Float("validation_split"),
		Seed:            int64(sc.Params.Int("seed")),
	})
	if err != nil {
		return pipeline.StageResult{}, err
	}
	sc.Logger.Info("model trained", "architecture", arch, "images", ds.Len(), "val_accuracy", metrics.Accuracy)

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
	}, nil
}
