package motion

import (
	"strings"

	"github.com/teslashibe/go-posemusic/pkg/pose"
)

// Category groups channels that share gate thresholds.
type Category string

// Channel categories.
const (
	CategoryNose     Category = "nose"
	CategoryEye      Category = "eye"
	CategoryEar      Category = "ear"
	CategoryShoulder Category = "shoulder"
	CategoryElbow    Category = "elbow"
	CategoryWrist    Category = "wrist"
	CategoryHip      Category = "hip"
	CategoryKnee     Category = "knee"
	CategoryAnkle    Category = "ankle"
	CategoryDefault  Category = "default"
)

// Categories lists every named category, CategoryDefault last.
func Categories() []Category {
	return []Category{
		CategoryNose, CategoryEye, CategoryEar, CategoryShoulder, CategoryElbow,
		CategoryWrist, CategoryHip, CategoryKnee, CategoryAnkle, CategoryDefault,
	}
}

// CategoryOf derives the category from a point name such as "right_wrist".
func CategoryOf(name string) Category {
	if _, ok := pose.ID(name); !ok {
		return CategoryDefault
	}
	suffix := name
	if i := strings.LastIndexByte(name, '_'); i >= 0 {
		suffix = name[i+1:]
	}
	c := Category(suffix)
	for _, known := range Categories() {
		if c == known {
			return c
		}
	}
	return CategoryDefault
}
