// Package model implements the deterministic reference classifier that
// stands in for the external training library. Architecture tags map to
// fixed input geometries; training computes per-class feature centroids
// in a single seeded pass, so identical seed + inputs + parameters give
// identical models.
package model

import (
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"math"
	"math/rand"
	"sort"

	"github.com/patchlab-ai/patchlab-go/internal/domain"
	"github.com/patchlab-ai/patchlab-go/internal/imageset"
)

type geometry struct {
	InputSize int
	Grid      int
}

var geometries = map[domain.Architecture]geometry{
	domain.ArchLeNet:      {InputSize: 28, Grid: 4},
	domain.ArchShallowNet: {InputSize: 28, Grid: 2},
	domain.ArchAlexNet:    {InputSize: 64, Grid: 6},
	domain.ArchResNet50:   {InputSize: 224, Grid: 8},
	domain.ArchVGG16:      {InputSize: 224, Grid: 7},
}

// Model is a nearest-centroid classifier over downsampled luminance
// features.
type Model struct {
	Architecture domain.Architecture `json:"architecture"`
	InputSize    int                 `json:"input_size"`
	Grid         int                 `json:"grid"`
	Classes      []string            `json:"classes"`
	Centroids    [][]float64         `json:"centroids"`
	Optimizer    domain.Optimizer    `json:"optimizer,omitempty"`
	LearningRate float64             `json:"learning_rate,omitempty"`
	Seed         int64               `json:"seed"`
}

// Metrics summarizes an evaluation pass.
type Metrics struct {
	Accuracy float64
	Loss     float64
	N        int
}

// TrainOptions configures a training pass.
type TrainOptions struct {
	Optimizer       domain.Optimizer
	LearningRate    float64
	BatchSize       int
	ValidationSplit float64
	Seed            int64
}

// Train fits a classifier from scratch on the dataset and reports
// validation metrics over the held-out split.
func Train(arch domain.Architecture, ds *imageset.Dataset, opts TrainOptions) (*Model, Metrics, error) {
	geo, ok := geometries[arch]
	if !ok {
		return nil, Metrics{}, fmt.Errorf("unknown architecture %q", arch)
	}
	if ds == nil || ds.Len() == 0 {
		return nil, Metrics{}, errors.New("training dataset is empty")
	}

	fit, val := split(ds, opts.ValidationSplit, opts.Seed)
	if len(fit) == 0 {
		fit = ds.Items
	}

	classes := ds.Labels()
	index := make(map[string]int, len(classes))
	for i, class := range classes {
		index[class] = i
	}

	sums := make([][]float64, len(classes))
	counts := make([]int, len(classes))
	dim := geo.Grid * geo.Grid
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	for _, it := range fit {
		img, err := it.Decode()
		if err != nil {
			return nil, Metrics{}, err
		}
		feats := features(img, geo)
		ci := index[it.Label]
		for j, f := range feats {
			sums[ci][j] += f
		}
		counts[ci]++
	}

	centroids := make([][]float64, len(classes))
	for i := range sums {
		centroids[i] = make([]float64, dim)
		if counts[i] == 0 {
			continue
		}
		for j := range sums[i] {
			centroids[i][j] = sums[i][j] / float64(counts[i])
		}
	}

	m := &Model{
		Architecture: arch,
		InputSize:    geo.InputSize,
		Grid:         geo.Grid,
		Classes:      classes,
		Centroids:    centroids,
		Optimizer:    opts.Optimizer,
		LearningRate: opts.LearningRate,
		Seed:         opts.Seed,
	}

	metrics := Metrics{}
	if len(val) > 0 {
		valSet := &imageset.Dataset{Name: ds.Name, Items: val}
		var err error
		metrics, err = m.Evaluate(valSet, false)
		if err != nil {
			return nil, Metrics{}, err
		}
	}
	return m, metrics, nil
}

// Pretrained synthesizes a deterministic pretrained parameter set for
// the architecture over the given classes. Only architectures with
// published weights are accepted.
func Pretrained(arch domain.Architecture, classes []string) (*Model, error) {
	if !arch.Pretrained() {
		return nil, fmt.Errorf("architecture %q has no pretrained weights", arch)
	}
	geo := geometries[arch]
	if len(classes) == 0 {
		return nil, errors.New("pretrained model requires at least one class")
	}
	sorted := append([]string(nil), classes...)
	sort.Strings(sorted)

	dim := geo.Grid * geo.Grid
	centroids := make([][]float64, len(sorted))
	for i, class := range sorted {
		rng := rand.New(rand.NewSource(seedFor(string(arch), class)))
		centroids[i] = make([]float64, dim)
		for j := range centroids[i] {
			centroids[i][j] = rng.Float64()
		}
	}
	return &Model{
		Architecture: arch,
		InputSize:    geo.InputSize,
		Grid:         geo.Grid,
		Classes:      sorted,
		Centroids:    centroids,
	}, nil
}

// Predict returns the index of the nearest class centroid and the
// distance to every centroid.
func (m *Model) Predict(img image.Image) (int, []float64) {
	feats := features(img, geometry{InputSize: m.InputSize, Grid: m.Grid})
	best := 0
	dists := make([]float64, len(m.Centroids))
	for i, centroid := range m.Centroids {
		dists[i] = distance(feats, centroid)
		if dists[i] < dists[best] {
			best = i
		}
	}
	return best, dists
}

// TargetDistance measures how far an image sits from the target class
// centroid. Patch optimization minimizes this.
func (m *Model) TargetDistance(img image.Image, target int) (float64, error) {
	if target < 0 || target >= len(m.Centroids) {
		return 0, fmt.Errorf("target class %d out of range (%d classes)", target, len(m.Centroids))
	}
	feats := features(img, geometry{InputSize: m.InputSize, Grid: m.Grid})
	return distance(feats, m.Centroids[target]), nil
}

// Evaluate runs the classifier over every dataset item and reports
// accuracy and mean loss.
func (m *Model) Evaluate(ds *imageset.Dataset, imagenetPreprocessing bool) (Metrics, error) {
	if ds == nil || ds.Len() == 0 {
		return Metrics{}, errors.New("evaluation dataset is empty")
	}
	index := make(map[string]int, len(m.Classes))
	for i, class := range m.Classes {
		index[class] = i
	}

	correct := 0
	lossSum := 0.0
	for _, it := range ds.Items {
		img, err := it.Decode()
		if err != nil {
			return Metrics{}, err
		}
		if imagenetPreprocessing {
			img = centerCrop(img)
		}
		pred, dists := m.Predict(img)
		truth, known := index[it.Label]
		if known && pred == truth {
			correct++
		}
		if known {
			lossSum += normalizedLoss(dists, truth)
		} else {
			lossSum += 1
		}
	}
	n := ds.Len()
	return Metrics{
		Accuracy: float64(correct) / float64(n),
		Loss:     lossSum / float64(n),
		N:        n,
	}, nil
}

func normalizedLoss(dists []float64, truth int) float64 {
	total := 0.0
	for _, d := range dists {
		total += d
	}
	if total == 0 {
		return 0
	}
	return dists[truth] / total
}

func distance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// features downsamples the image to the architecture's input geometry
// and averages luminance per grid cell.
func features(img image.Image, geo geometry) []float64 {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	dim := geo.Grid * geo.Grid
	sums := make([]float64, dim)
	counts := make([]int, dim)

	for y := 0; y < geo.InputSize; y++ {
		srcY := bounds.Min.Y + y*h/geo.InputSize
		cellY := y * geo.Grid / geo.InputSize
		for x := 0; x < geo.InputSize; x++ {
			srcX := bounds.Min.X + x*w/geo.InputSize
			cellX := x * geo.Grid / geo.InputSize
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			lum := (float64(r) + float64(g) + float64(b)) / (3 * 65535)
			cell := cellY*geo.Grid + cellX
			sums[cell] += lum
			counts[cell]++
		}
	}
	for i := range sums {
		if counts[i] > 0 {
			sums[i] /= float64(counts[i])
		}
	}
	return sums
}

// centerCrop approximates imagenet preprocessing by cropping the
// central 87.5% of the image.
func centerCrop(img image.Image) image.Image {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	cw := w * 7 / 8
	ch := h * 7 / 8
	if cw < 1 || ch < 1 {
		return img
	}
	x0 := bounds.Min.X + (w-cw)/2
	y0 := bounds.Min.Y + (h-ch)/2
	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(image.Rect(x0, y0, x0+cw, y0+ch))
	}
	return img
}

// split deterministically carves a validation set off the dataset.
func split(ds *imageset.Dataset, ratio float64, seed int64) (fit, val []imageset.Item) {
	if ratio <= 0 || ratio >= 1 {
		return ds.Items, nil
	}
	perm := rand.New(rand.NewSource(seed)).Perm(ds.Len())
	cut := int(math.Round(float64(ds.Len()) * ratio))
	if cut >= ds.Len() {
		cut = ds.Len() - 1
	}
	val = make([]imageset.Item, 0, cut)
	fit = make([]imageset.Item, 0, ds.Len()-cut)
	for i, idx := range perm {
		if i < cut {
			val = append(val, ds.Items[idx])
		} else {
			fit = append(fit, ds.Items[idx])
		}
	}
	return fit, val
}

func seedFor(parts ...string) int64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return int64(h.Sum64())
}
