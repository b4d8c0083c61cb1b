package stages

import (
	"context"
	"fmt"
	"image"
	"math"
	"math/rand"

	"github.com/patchlab-ai/patchlab-go/internal/artifacts"
	"github.com/patchlab-ai/patchlab-go/internal/domain"
	"github.com/patchlab-ai/patchlab-go/internal/imageset"
	"github.com/patchlab-ai/patchlab-go/internal/model"
	"github.com/patchlab-ai/patchlab-go/internal/pipeline"
)

const (
	genPatchTarName    = "adversarial_patch.tar.gz"
	genPatchFolderName = "adv_patches"
)

// genPatchEntryPoint optimizes adversarial patches against a registered
// model via seeded random search and publishes them as a PNG dataset
// artifact.
func genPatchEntryPoint() pipeline.EntryPoint {
	return pipeline.EntryPoint{
		Name: "gen_patch",
		Schema: pipeline.Schema{
			Params: []pipeline.ParamSpec{
				{Name: "data_dir", Kind: pipeline.KindString, Required: true},
				{Name: "model_name", Kind: pipeline.KindString, Required: true},
				{Name: "model_version", Kind: pipeline.KindString, Default: "latest"},
				{Name: "num_patch", Kind: pipeline.KindInt, Default: 1, Min: pipeline.Min(1)},
				{Name: "num_patch_gen_samples", Kind: pipeline.KindInt, Default: 10, Min: pipeline.Min(1)},
				{Name: "max_iter", Kind: pipeline.KindInt, Default: 500, Min: pipeline.Min(1)},
				{Name: "patch_target", Kind: pipeline.KindInt, Default: 0, Min: pipeline.Min(0)},
				{Name: "patch_scale", Kind: pipeline.KindFloat, Default: 0.4, Min: pipeline.MinExclusive(0), Max: pipeline.Max(1)},
				{Name: "learning_rate", Kind: pipeline.KindFloat, Default: 5.0, Min: pipeline.MinExclusive(0)},
				{Name: "imagenet_preprocessing", Kind: pipeline.KindBool, Default: false},
				{Name: "dataset_tar_name", Kind: pipeline.KindString, Default: genPatchTarName},
				{Name: "dataset_name", Kind: pipeline.KindString, Default: genPatchFolderName},
				seedSpec(),
			},
			Check: checkModelVersion,
		},
		Run: runGenPatch,
	}
}

func runGenPatch(ctx context.Context, sc pipeline.StageContext) (pipeline.StageResult, error) {
	m, _, err := loadModel(ctx, sc.Models, sc.Params.String("model_name"), sc.Params.String("model_version"))
	if err != nil {
		return pipeline.StageResult{}, err
	}
	target := sc.Params.Int("patch_target")
	if target >= len(m.Classes) {
		return pipeline.StageResult{}, fmt.Errorf("patch_target %d out of range: model has %d classes", target, len(m.Classes))
	}

	ds, cleanup, err := sc.Resolver.Resolve(ctx, domain.DirectoryRef(sc.Params.String("data_dir")))
	if err != nil {
		return pipeline.StageResult{}, err
	}
	defer cleanup()

	rng := rand.New(rand.NewSource(int64(sc.Params.Int("seed"))))
	numPatch := sc.Params.Int("num_patch")
	numSamples := sc.Params.Int("num_patch_gen_samples")
	maxIter := sc.Params.Int("max_iter")
	patchScale := sc.Params.Float("patch_scale")
	learningRate := sc.Params.Float("learning_rate")

	folder := artifacts.Folder{Name: sc.Params.String("dataset_name")}
	distanceSum := 0.0
	for i := 0; i < numPatch; i++ {
		samples, err := pickSamples(ds, numSamples, rng)
		if err != nil {
			return pipeline.StageResult{}, err
		}
		patch, score, err := optimizePatch(ctx, m, samples, target, patchScale, learningRate, maxIter, rng)
		if err != nil {
			return pipeline.StageResult{}, err
		}
		distanceSum += score

		data, err := imageset.EncodePNG(patch)
		if err != nil {
			return pipeline.StageResult{}, err
		}
		folder.Files = append(folder.Files, artifacts.File{
			Path: fmt.Sprintf("patch_%d.png", i),
			Data: data,
		})
		sc.Logger.Info("patch optimized", "patch", i, "target_distance", score)
	}

	return pipeline.StageResult{
		Metrics: domain.Metadata{
			"num_patches":          numPatch,
			"mean_target_distance": distanceSum / float64(numPatch),
		},
		Tarballs: []pipeline.PendingTarball{{
			TarName: sc.Params.String("dataset_tar_name"),
			Folders: []artifacts.Folder{folder},
		}},
	}, nil
}

// pickSamples decodes a seeded random selection of dataset images.
func pickSamples(ds *imageset.Dataset, count int, rng *rand.Rand) ([]*image.RGBA, error) {
	if count > ds.Len() {
		count = ds.Len()
	}
	perm := rng.Perm(ds.Len())
	out := make([]*image.RGBA, 0, count)
	for _, idx := range perm[:count] {
		img, err := ds.Items[idx].Decode()
		if err != nil {
			return nil, err
		}
		out = append(out, toRGBA(img))
	}
	return out, nil
}

// optimizePatch runs random-search optimization: propose a seeded
// mutation, keep it when the mean distance to the target class centroid
// over the composited samples improves.
func optimizePatch(ctx context.Context, m *model.Model, samples []*image.RGBA, target int, patchScale, learningRate float64, maxIter int, rng *rand.Rand) (*image.RGBA, float64, error) {
	side := patchSide(samples, patchScale)
	patch := randomPatch(rng, side)
	best, err := scorePatch(m, samples, patch, target, patchScale)
	if err != nil {
		return nil, 0, err
	}
	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		candidate := mutatePatch(patch, learningRate, rng)
		score, err := scorePatch(m, samples, candidate, target, patchScale)
		if err != nil {
			return nil, 0, err
		}
		if score < best {
			best = score
			patch = candidate
		}
	}
	return patch, best, nil
}

// patchSide is patch_scale times the smallest sample side.
func patchSide(samples []*image.RGBA, patchScale float64) int {
	minSide := math.MaxInt
	for _, img := range samples {
		if s := img.Bounds().Dx(); s < minSide {
			minSide = s
		}
		if s := img.Bounds().Dy(); s < minSide {
			minSide = s
		}
	}
	side := int(math.Round(patchScale * float64(minSide)))
	if side < 1 {
		side = 1
	}
	return side
}

func scorePatch(m *model.Model, samples []*image.RGBA, patch *image.RGBA, target int, patchScale float64) (float64, error) {
	sum := 0.0
	for _, sample := range samples {
		composited := compositeCentered(sample, patch, patchScale)
		dist, err := m.TargetDistance(composited, target)
		if err != nil {
			return 0, err
		}
		sum += dist
	}
	return sum / float64(len(samples)), nil
}

// compositeCentered pastes the patch at the image center, scaled to
// patch_scale of the image's smaller side.
func compositeCentered(img *image.RGBA, patch *image.RGBA, patchScale float64) *image.RGBA {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	minSide := w
	if h < minSide {
		minSide = h
	}
	side := int(math.Round(patchScale * float64(minSide)))
	if side < 1 {
		side = 1
	}
	out := image.NewRGBA(img.Bounds())
	copy(out.Pix, img.Pix)
	fitted := resizePatch(patch, side)
	overlayPatch(out, fitted, (w-side)/2, (h-side)/2)
	return out
}

// mutatePatch perturbs one random block of the patch by a gaussian
// color delta scaled by the learning rate.
func mutatePatch(patch *image.RGBA, learningRate float64, rng *rand.Rand) *image.RGBA {
	side := patch.Bounds().Dx()
	out := image.NewRGBA(patch.Bounds())
	copy(out.Pix, patch.Pix)

	block := rng.Intn(side/2+1) + 1
	x0 := rng.Intn(side - block + 1)
	y0 := rng.Intn(side - block + 1)
	dr := rng.NormFloat64() * learningRate
	dg := rng.NormFloat64() * learningRate
	db := rng.NormFloat64() * learningRate
	for y := y0; y < y0+block; y++ {
		for x := x0; x < x0+block; x++ {
			i := out.PixOffset(x, y)
			out.Pix[i] = clampU8(float64(out.Pix[i]) + dr)
			out.Pix[i+1] = clampU8(float64(out.Pix[i+1]) + dg)
			out.Pix[i+2] = clampU8(float64(out.Pix[i+2]) + db)
		}
	}
	return out
}
