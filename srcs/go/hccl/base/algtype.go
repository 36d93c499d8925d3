package base

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// AlgLevel0 is the intra-server pattern.
type AlgLevel0 int32

const (
	Level0Whole AlgLevel0 = iota
	Level0NPSingleRing
	Level0NPDoubleRing
	Level0EightPRing
	Level0FourPMesh
	Level0TwoPMesh
	Level0OnePMesh
	Level0FourPRing
	Level0NPMesh
	Level0OneP
	Level0Reserved
)

var level0Names = map[AlgLevel0]string{
	Level0Whole:        "whole",
	Level0NPSingleRing: "np_single_ring",
	Level0NPDoubleRing: "np_double_ring",
	Level0EightPRing:   "8p_ring",
	Level0FourPMesh:    "4p_mesh",
	Level0TwoPMesh:     "2p_mesh",
	Level0OnePMesh:     "1p_mesh",
	Level0FourPRing:    "4p_ring",
	Level0NPMesh:       "np_mesh",
	Level0OneP:         "1p",
	Level0Reserved:     "reserved",
}

func (a AlgLevel0) String() string { return level0Names[a] }

// IsMesh reports whether the level-0 pattern is a full mesh.
func (a AlgLevel0) IsMesh() bool {
	switch a {
	case Level0FourPMesh, Level0TwoPMesh, Level0OnePMesh, Level0NPMesh:
		return true
	}
	return false
}

// AlgLevel1 is the inter-server pattern.
type AlgLevel1 int32

const (
	Level1Whole AlgLevel1 = iota
	Level1HD              // recursive halving-doubling
	Level1Ring
	Level1Pipeline
	Level1NHR
	Level1NHRV1
	Level1NB
	Level1Star
	Level1Fullmesh
	Level1Reserved
)

var level1Names = map[AlgLevel1]string{
	Level1Whole:    "whole",
	Level1HD:       "H-D_R",
	Level1Ring:     "ring",
	Level1Pipeline: "pipeline",
	Level1NHR:      "NHR",
	Level1NHRV1:    "NHR_V1",
	Level1NB:       "NB",
	Level1Star:     "star",
	Level1Fullmesh: "fullmesh",
	Level1Reserved: "reserved",
}

func (a AlgLevel1) String() string { return level1Names[a] }

// AlgLevel2 is the inter-superpod pattern.
type AlgLevel2 int32

const (
	Level2Ring AlgLevel2 = iota
	Level2HD
	Level2NHR
	Level2NB
	Level2Reserved
)

var level2Names = map[AlgLevel2]string{
	Level2Ring:     "ring",
	Level2HD:       "H-D_R",
	Level2NHR:      "NHR",
	Level2NB:       "NB",
	Level2Reserved: "reserved",
}

func (a AlgLevel2) String() string { return level2Names[a] }

// AlgType is the per-level algorithm choice of one communicator.
type AlgType struct {
	Level0 AlgLevel0
	Level1 AlgLevel1
	Level2 AlgLevel2
}

func (a AlgType) String() string {
	return fmt.Sprintf("level0:%s;level1:%s;level2:%s", a.Level0, a.Level1, a.Level2)
}

// Pattern names the exchange schedule one sub-algorithm follows.
type Pattern int32

const (
	PatternRing Pattern = iota
	PatternMesh
	PatternHalvingDoubling
	PatternRecursiveDoubling
	PatternNHR
	PatternNHROneShot
	PatternNHRV1
	PatternNB
	PatternPairwise
)

var patternNames = map[Pattern]string{
	PatternRing:              "ring",
	PatternMesh:              "mesh",
	PatternHalvingDoubling:   "halving-doubling",
	PatternRecursiveDoubling: "recursive-doubling",
	PatternNHR:               "nhr",
	PatternNHROneShot:        "nhr-oneshot",
	PatternNHRV1:             "nhr-v1",
	PatternNB:                "nb",
	PatternPairwise:          "pairwise",
}

func (p Pattern) String() string { return patternNames[p] }

// AlgoConfig is the user preference parsed from HCCL_ALGO, e.g.
// "level0:NA;level1:H-D_R;level2:ring". "NA" leaves the level to auto selection.
type AlgoConfig struct {
	Level1    AlgLevel1
	Level2    AlgLevel2
	HasLevel1 bool
	HasLevel2 bool
}

func ParseAlgoConfig(val string) (AlgoConfig, error) {
	var c AlgoConfig
	val = strings.TrimSpace(val)
	if len(val) == 0 {
		return c, nil
	}
	for _, part := range strings.Split(val, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(kv) != 2 {
			return c, errors.Wrapf(ErrPara, "invalid algo config %q", part)
		}
		level, name := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		if name == "NA" {
			continue
		}
		switch level {
		case "level0":
			// level0 is derived from topology, the value is only checked
		case "level1":
			a, ok := lookupLevel1(name)
			if !ok {
				return c, errors.Wrapf(ErrPara, "invalid level1 algo %q", name)
			}
			c.Level1, c.HasLevel1 = a, true
		case "level2":
			a, ok := lookupLevel2(name)
			if !ok {
				return c, errors.Wrapf(ErrPara, "invalid level2 algo %q", name)
			}
			c.Level2, c.HasLevel2 = a, true
		default:
			return c, errors.Wrapf(ErrPara, "invalid algo level %q", level)
		}
	}
	return c, nil
}

func lookupLevel1(name string) (AlgLevel1, bool) {
	for k, v := range level1Names {
		if v == name && k != Level1Reserved {
			return k, true
		}
	}
	return Level1Reserved, false
}

func lookupLevel2(name string) (AlgLevel2, bool) {
	for k, v := range level2Names {
		if v == name && k != Level2Reserved {
			return k, true
		}
	}
	return Level2Reserved, false
}
