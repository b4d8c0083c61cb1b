package stages

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"

	"github.com/patchlab-ai/patchlab-go/internal/artifacts"
	"github.com/patchlab-ai/patchlab-go/internal/domain"
	"github.com/patchlab-ai/patchlab-go/internal/imageset"
	"github.com/patchlab-ai/patchlab-go/internal/pipeline"
)

// Defense transforms share one shape: the input directory holds
// training/ and testing/ splits, each transformed independently when
// its apply flag is set and passed through byte-identical when not.
// The output tarball holds the splits as training/ and testing/ folders.
type defenseOp struct {
	name        string
	prefix      string
	defaultTar  string
	extraParams []pipeline.ParamSpec
	transform   func(p pipeline.Params, rng *rand.Rand, ds *imageset.Dataset) (*imageset.Dataset, error)
}

func spatialSmoothingEntryPoint() pipeline.EntryPoint {
	return defenseEntryPoint(defenseOp{
		name:       "spatial_smoothing",
		prefix:     "spatial_smoothing",
		defaultTar: "spatial_smoothing_dataset.tar.gz",
		extraParams: []pipeline.ParamSpec{
			{Name: "spatial_smoothing_window_size", Kind: pipeline.KindInt, Default: 3, Min: pipeline.Min(1)},
		},
		transform: func(p pipeline.Params, _ *rand.Rand, ds *imageset.Dataset) (*imageset.Dataset, error) {
			window := p.Int("spatial_smoothing_window_size")
			return mapItems(ds, func(it imageset.Item) ([]imageset.Item, error) {
				img, err := it.Decode()
				if err != nil {
					return nil, err
				}
				data, err := imageset.EncodePNG(medianFilter(img, window))
				if err != nil {
					return nil, err
				}
				return []imageset.Item{{Path: imageset.ReplaceExt(it.Path, ".png"), Label: it.Label, Data: data}}, nil
			})
		},
	})
}

func jpegCompressionEntryPoint() pipeline.EntryPoint {
	return defenseEntryPoint(defenseOp{
		name:       "jpeg_compression",
		prefix:     "jpeg_compression",
		defaultTar: "jpeg_compression_dataset.tar.gz",
		extraParams: []pipeline.ParamSpec{
			{Name: "jpeg_compression_quality", Kind: pipeline.KindInt, Default: 50, Min: pipeline.Min(1), Max: pipeline.Max(100)},
			// Accepted for wire compatibility and recorded on the run.
			{Name: "jpeg_compression_channels_first", Kind: pipeline.KindBool, Default: false},
		},
		transform: func(p pipeline.Params, _ *rand.Rand, ds *imageset.Dataset) (*imageset.Dataset, error) {
			quality := p.Int("jpeg_compression_quality")
			return mapItems(ds, func(it imageset.Item) ([]imageset.Item, error) {
				img, err := it.Decode()
				if err != nil {
					return nil, err
				}
				data, err := encodeJPEG(img, quality)
				if err != nil {
					return nil, err
				}
				return []imageset.Item{{Path: imageset.ReplaceExt(it.Path, ".jpg"), Label: it.Label, Data: data}}, nil
			})
		},
	})
}

func gaussianAugmentationEntryPoint() pipeline.EntryPoint {
	return defenseEntryPoint(defenseOp{
		name:       "gaussian_augmentation",
		prefix:     "gaussian_augmentation",
		defaultTar: "gaussian_augmentation_dataset.tar.gz",
		extraParams: []pipeline.ParamSpec{
			{Name: "gaussian_augmentation_perform_data_augmentation", Kind: pipeline.KindBool, Default: false},
			{Name: "gaussian_augmentation_ratio", Kind: pipeline.KindFloat, Default: 1.0, Min: pipeline.Min(0), Max: pipeline.Max(1)},
			{Name: "gaussian_augmentation_sigma", Kind: pipeline.KindFloat, Default: 1.0, Min: pipeline.MinExclusive(0)},
		},
		transform: gaussianAugment,
	})
}

// gaussianAugment appends noisy copies for a ratio fraction when
// augmentation is requested; otherwise it noises every image in place
// and the ratio is ignored.
func gaussianAugment(p pipeline.Params, rng *rand.Rand, ds *imageset.Dataset) (*imageset.Dataset, error) {
	sigma := p.Float("gaussian_augmentation_sigma")
	noisy := func(it imageset.Item, path string) (imageset.Item, error) {
		img, err := it.Decode()
		if err != nil {
			return imageset.Item{}, err
		}
		data, err := imageset.EncodePNG(addGaussianNoise(img, sigma, rng))
		if err != nil {
			return imageset.Item{}, err
		}
		return imageset.Item{Path: path, Label: it.Label, Data: data}, nil
	}

	if !p.Bool("gaussian_augmentation_perform_data_augmentation") {
		return mapItems(ds, func(it imageset.Item) ([]imageset.Item, error) {
			out, err := noisy(it, imageset.ReplaceExt(it.Path, ".png"))
			if err != nil {
				return nil, err
			}
			return []imageset.Item{out}, nil
		})
	}

	ratio := p.Float("gaussian_augmentation_ratio")
	selected := pickIndices(ds.Len(), ratio, rng)
	out := &imageset.Dataset{Name: ds.Name, Items: append([]imageset.Item(nil), ds.Items...)}
	for _, idx := range selected {
		it := ds.Items[idx]
		copyPath := imageset.ReplaceExt(it.Path, "") + "_noisy.png"
		item, err := noisy(it, copyPath)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func defenseEntryPoint(op defenseOp) pipeline.EntryPoint {
	params := []pipeline.ParamSpec{
		{Name: "data_dir", Kind: pipeline.KindString, Required: true},
		{Name: op.prefix + "_apply_fit", Kind: pipeline.KindBool, Default: false},
		{Name: op.prefix + "_apply_predict", Kind: pipeline.KindBool, Default: false},
	}
	params = append(params, op.extraParams...)
	params = append(params,
		pipeline.ParamSpec{Name: "dataset_tar_name", Kind: pipeline.KindString, Default: op.defaultTar},
		seedSpec(),
	)
	return pipeline.EntryPoint{
		Name:   op.name,
		Schema: pipeline.Schema{Params: params},
		Run: func(ctx context.Context, sc pipeline.StageContext) (pipeline.StageResult, error) {
			return runDefense(ctx, sc, op)
		},
	}
}

func runDefense(ctx context.Context, sc pipeline.StageContext, op defenseOp) (pipeline.StageResult, error) {
	dataDir := sc.Params.String("data_dir")
	training, trainingCleanup, err := resolveSplit(ctx, sc.Resolver, dataDir, "training")
	if err != nil {
		return pipeline.StageResult{}, err
	}
	defer trainingCleanup()
	testing, testingCleanup, err := resolveSplit(ctx, sc.Resolver, dataDir, "testing")
	if err != nil {
		return pipeline.StageResult{}, err
	}
	defer testingCleanup()
	if training == nil && testing == nil {
		return pipeline.StageResult{}, &pipeline.DataNotFoundError{Path: dataDir}
	}

	rng := rand.New(rand.NewSource(int64(sc.Params.Int("seed"))))
	metrics := domain.Metadata{}
	folders := make([]artifacts.Folder, 0, 2)

	// Training consumes rng state first so split ordering is fixed.
	for _, split := range []struct {
		name  string
		ds    *imageset.Dataset
		apply bool
	}{
		{"training", training, sc.Params.Bool(op.prefix + "_apply_fit")},
		{"testing", testing, sc.Params.Bool(op.prefix + "_apply_predict")},
	} {
		if split.ds == nil {
			continue
		}
		out := split.ds
		if split.apply {
			out, err = op.transform(sc.Params, rng, split.ds)
			if err != nil {
				return pipeline.StageResult{}, err
			}
		}
		folders = append(folders, datasetFolder(split.name, out))
		metrics[split.name+"_images"] = out.Len()
		sc.Logger.Info("split processed", "split", split.name, "applied", split.apply, "images", out.Len())
	}

	return pipeline.StageResult{
		Metrics: metrics,
		Tarballs: []pipeline.PendingTarball{{
			TarName: sc.Params.String("dataset_tar_name"),
			Folders: folders,
		}},
	}, nil
}

// resolveSplit loads one split subdirectory. A missing split is not an
// error here; runDefense rejects the case where both are missing.
func resolveSplit(ctx context.Context, resolver pipeline.DatasetResolver, dataDir, split string) (*imageset.Dataset, func(), error) {
	noop := func() {}
	ds, cleanup, err := resolver.Resolve(ctx, domain.DirectoryRef(filepath.Join(dataDir, split)))
	if err != nil {
		var notFound *pipeline.DataNotFoundError
		if errors.As(err, &notFound) {
			return nil, noop, nil
		}
		return nil, noop, err
	}
	return ds, cleanup, nil
}

// mapItems applies fn to every item in order.
func mapItems(ds *imageset.Dataset, fn func(imageset.Item) ([]imageset.Item, error)) (*imageset.Dataset, error) {
	out := &imageset.Dataset{Name: ds.Name, Items: make([]imageset.Item, 0, ds.Len())}
	for _, it := range ds.Items {
		mapped, err := fn(it)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, mapped...)
	}
	return out, nil
}
