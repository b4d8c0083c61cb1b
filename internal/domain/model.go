package domain

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Architecture tags the classifier families supported by the pipeline.
type Architecture string

const (
	ArchLeNet      Architecture = "le_net"
	ArchShallowNet Architecture = "shallow_net"
	ArchAlexNet    Architecture = "alex_net"
	ArchResNet50   Architecture = "resnet50"
	ArchVGG16      Architecture = "vgg16"
)

func (a Architecture) Valid() bool {
	switch a {
	case ArchLeNet, ArchShallowNet, ArchAlexNet, ArchResNet50, ArchVGG16:
		return true
	default:
		return false
	}
}

// Pretrained reports whether the architecture ships with pretrained
// weights usable by init_model.
func (a Architecture) Pretrained() bool {
	return a == ArchResNet50 || a == ArchVGG16
}

// Optimizer tags the training update rules accepted by the train stage.
type Optimizer string

const (
	OptRMSProp Optimizer = "rmsprop"
	OptAdam    Optimizer = "adam"
	OptAdagrad Optimizer = "adagrad"
	OptSGD     Optimizer = "sgd"
)

func (o Optimizer) Valid() bool {
	switch o {
	case OptRMSProp, OptAdam, OptAdagrad, OptSGD:
		return true
	default:
		return false
	}
}

// VersionLatest selects the newest registered version of a model.
const VersionLatest = 0

// ModelRef names a registered model by name and version. Version zero
// means latest.
type ModelRef struct {
	Name    string
	Version int
}

// ParseModelVersion parses the wire form of a model version: a positive
// integer, or the sentinels "none"/"latest" selecting the newest version.
func ParseModelVersion(value string) (int, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" || value == "none" || value == "latest" {
		return VersionLatest, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, errors.New("model version must be a positive integer, \"none\" or \"latest\"")
	}
	return n, nil
}

// ModelVersion is one immutable registry entry for a named model.
type ModelVersion struct {
	Name         string
	Version      int
	Architecture Architecture
	SHA256       string
	SizeBytes    int64
	CreatedAt    time.Time
}

func (m ModelVersion) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("model name is required")
	}
	if m.Version < 1 {
		return errors.New("model version must be >= 1")
	}
	if !m.Architecture.Valid() {
		return errors.New("invalid model architecture")
	}
	if strings.TrimSpace(m.SHA256) == "" {
		return errors.New("model sha256 is required")
	}
	return nil
}
