package stages

import (
	"context"
	"image"
	"math"
	"math/rand"
	"sort"

	"github.com/patchlab-ai/patchlab-go/internal/artifacts"
	"github.com/patchlab-ai/patchlab-go/internal/domain"
	"github.com/patchlab-ai/patchlab-go/internal/imageset"
	"github.com/patchlab-ai/patchlab-go/internal/pipeline"
)

const (
	deployPatchTarName    = "adv_testing.tar.gz"
	deployPatchFolderName = "adv_testing_data"
)

// deployPatchEntryPoint composites previously generated patches onto a
// dataset. "corrupt" replaces originals, "augment" appends patched
// copies alongside them.
func deployPatchEntryPoint() pipeline.EntryPoint {
	return pipeline.EntryPoint{
		Name: "deploy_patch",
		Schema: pipeline.Schema{
			Params: []pipeline.ParamSpec{
				{Name: "data_dir", Kind: pipeline.KindString, Required: true},
				{Name: "run_id", Kind: pipeline.KindString, Required: true},
				{Name: "adv_tar_name", Kind: pipeline.KindString, Default: genPatchTarName},
				{Name: "adv_data_dir", Kind: pipeline.KindString, Default: genPatchFolderName},
				{Name: "patch_deployment_method", Kind: pipeline.KindEnum, Default: "corrupt", Enum: []string{"corrupt", "augment"}},
				{Name: "patch_application_rate", Kind: pipeline.KindFloat, Default: 1.0, Min: pipeline.Min(0), Max: pipeline.Max(1)},
				{Name: "patch_scale", Kind: pipeline.KindFloat, Default: 0.4, Min: pipeline.MinExclusive(0), Max: pipeline.Max(1)},
				{Name: "rotation_max", Kind: pipeline.KindFloat, Default: 22.5, Min: pipeline.Min(0), Max: pipeline.Max(180)},
				{Name: "scale_min", Kind: pipeline.KindFloat, Default: 0.1, Min: pipeline.Min(0), Max: pipeline.Max(1)},
				{Name: "scale_max", Kind: pipeline.KindFloat, Default: 1.0, Min: pipeline.Min(0), Max: pipeline.Max(1)},
				{Name: "dataset_tar_name", Kind: pipeline.KindString, Default: deployPatchTarName},
				{Name: "dataset_name", Kind: pipeline.KindString, Default: deployPatchFolderName},
				seedSpec(),
			},
			Check: func(p pipeline.Params) *pipeline.ValidationError {
				if p.Float("scale_min") >= p.Float("scale_max") {
					return &pipeline.ValidationError{Param: "scale_min", Constraint: "must be < scale_max"}
				}
				return nil
			},
		},
		InputRunIDs: func(p pipeline.Params) []string {
			return []string{p.String("run_id")}
		},
		Run: runDeployPatch,
	}
}

func runDeployPatch(ctx context.Context, sc pipeline.StageContext) (pipeline.StageResult, error) {
	patchRef := domain.ArtifactRef(
		sc.Params.String("run_id"),
		sc.Params.String("adv_tar_name"),
		sc.Params.String("adv_data_dir"),
	)
	patchSet, patchCleanup, err := sc.Resolver.Resolve(ctx, patchRef)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	defer patchCleanup()

	patches := make([]*image.RGBA, 0, patchSet.Len())
	for _, it := range patchSet.Items {
		img, err := it.Decode()
		if err != nil {
			return pipeline.StageResult{}, err
		}
		patches = append(patches, toRGBA(img))
	}

	ds, cleanup, err := sc.Resolver.Resolve(ctx, domain.DirectoryRef(sc.Params.String("data_dir")))
	if err != nil {
		return pipeline.StageResult{}, err
	}
	defer cleanup()

	rng := rand.New(rand.NewSource(int64(sc.Params.Int("seed"))))
	rate := sc.Params.Float("patch_application_rate")
	selected := pickIndices(ds.Len(), rate, rng)

	augment := sc.Params.String("patch_deployment_method") == "augment"
	patchScale := sc.Params.Float("patch_scale")
	rotationMax := sc.Params.Float("rotation_max")
	scaleMin := sc.Params.Float("scale_min")
	scaleMax := sc.Params.Float("scale_max")

	out := make([]imageset.Item, 0, ds.Len()+len(selected))
	out = append(out, ds.Items...)
	patchedCount := 0
	for _, idx := range selected {
		item := ds.Items[idx]
		patched, err := applyPatch(item, patches, patchScale, rotationMax, scaleMin, scaleMax, rng)
		if err != nil {
			return pipeline.StageResult{}, err
		}
		if augment {
			// Keep the original; the copy gets a distinct name.
			patched.Path = imageset.ReplaceExt(item.Path, "") + "_patched.png"
			out = append(out, patched)
		} else {
			out[idx] = patched
		}
		patchedCount++
	}

	result := &imageset.Dataset{Name: sc.Params.String("dataset_name"), Items: out}
	sc.Logger.Info("patches deployed", "patched", patchedCount, "total", len(out), "method", sc.Params.String("patch_deployment_method"))
	return pipeline.StageResult{
		Metrics: domain.Metadata{
			"patched_images": patchedCount,
			"total_images":   len(out),
		},
		Tarballs: []pipeline.PendingTarball{{
			TarName: sc.Params.String("dataset_tar_name"),
			Folders: []artifacts.Folder{datasetFolder(result.Name, result)},
		}},
	}, nil
}

// pickIndices draws a seeded selection of round(rate*n) indices in
// ascending order.
func pickIndices(n int, rate float64, rng *rand.Rand) []int {
	count := int(math.Round(rate * float64(n)))
	if count <= 0 {
		return nil
	}
	if count > n {
		count = n
	}
	perm := rng.Perm(n)
	selected := append([]int(nil), perm[:count]...)
	sort.Ints(selected)
	return selected
}

// applyPatch composites a seeded random patch at a seeded random
// position, with rotation uniform in [-rotation_max, +rotation_max] and
// scale uniform in [scale_min, scale_max] on top of patch_scale.
func applyPatch(item imageset.Item, patches []*image.RGBA, patchScale, rotationMax, scaleMin, scaleMax float64, rng *rand.Rand) (imageset.Item, error) {
	img, err := item.Decode()
	if err != nil {
		return imageset.Item{}, err
	}
	canvas := toRGBA(img)
	w := canvas.Bounds().Dx()
	h := canvas.Bounds().Dy()
	minSide := w
	if h < minSide {
		minSide = h
	}

	patch := patches[rng.Intn(len(patches))]
	scale := scaleMin + rng.Float64()*(scaleMax-scaleMin)
	side := int(math.Round(patchScale * scale * float64(minSide)))
	if side < 1 {
		side = 1
	}
	if side > minSide {
		side = minSide
	}
	fitted := resizePatch(patch, side)
	angle := (rng.Float64()*2 - 1) * rotationMax
	fitted = rotatePatch(fitted, angle)

	x, y := 0, 0
	if w > side {
		x = rng.Intn(w - side + 1)
	}
	if h > side {
		y = rng.Intn(h - side + 1)
	}
	overlayPatch(canvas, fitted, x, y)

	data, err := imageset.EncodePNG(canvas)
	if err != nil {
		return imageset.Item{}, err
	}
	return imageset.Item{
		Path:  imageset.ReplaceExt(item.Path, ".png"),
		Label: item.Label,
		Data:  data,
	}, nil
}
