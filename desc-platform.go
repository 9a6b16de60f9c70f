package spider2

// file desc-platform.go holds the serializable description of the hardware
// platform.  Cost routines are described by per-byte coefficients; programs
// needing richer pricing install routines directly on the built platform.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// A PEDesc describes one processing element.
type PEDesc struct {
	Name   string `json:"name" yaml:"name"`
	HwType string `json:"hwtype" yaml:"hwtype"`
	HwIx   int    `json:"hwix" yaml:"hwix"`
	Lrt    bool   `json:"lrt" yaml:"lrt"`
}

// A ClusterDesc describes one cluster: its memory unit, its PEs, and the
// per-byte cost of reading and writing across its boundary.
type ClusterDesc struct {
	MemBase      uint64   `json:"membase" yaml:"membase"`
	MemSize      uint64   `json:"memsize" yaml:"memsize"`
	ReadPerByte  uint64   `json:"readperbyte" yaml:"readperbyte"`
	WritePerByte uint64   `json:"writeperbyte" yaml:"writeperbyte"`
	PEs          []PEDesc `json:"pes" yaml:"pes"`
}

// A PlatformDesc describes the whole platform.
type PlatformDesc struct {
	Name         string        `json:"name" yaml:"name"`
	Clusters     []ClusterDesc `json:"clusters" yaml:"clusters"`
	Grt          string        `json:"grt" yaml:"grt"`
	CommPerByte  uint64        `json:"commperbyte" yaml:"commperbyte"`
}

// ReadPlatformDesc reads a platform description from a file, or from the
// raw slice when it is non-empty.
func ReadPlatformDesc(filename string, useYAML bool, raw []byte) (*PlatformDesc, error) {
	var err error
	if len(raw) == 0 {
		raw, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}
	example := PlatformDesc{}
	if useYAML {
		err = yaml.Unmarshal(raw, &example)
	} else {
		err = json.Unmarshal(raw, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// WriteToFile serializes the description; the file extension selects the
// format.
func (pd *PlatformDesc) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error
	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*pd)
	} else {
		bytes, merr = json.MarshalIndent(*pd, "", "\t")
	}
	if merr != nil {
		panic(merr)
	}
	f, cerr := os.Create(filename)
	if cerr != nil {
		panic(cerr)
	}
	defer f.Close()
	_, werr := f.WriteString(string(bytes))
	return werr
}

// BuildPlatform turns a description into a runtime platform.
func BuildPlatform(pd *PlatformDesc) (*Platform, error) {
	pf := CreatePlatform(len(pd.Clusters))
	commPerByte := pd.CommPerByte
	pf.SetClusterCostRoutine(func(from, to int, size uint64) uint64 {
		if from == to {
			return 0
		}
		return commPerByte * size
	})
	var grt *PE
	for _, cd := range pd.Clusters {
		cl := pf.CreateCluster(len(cd.PEs), &MemoryUnit{Base: cd.MemBase, Size: cd.MemSize})
		readPerByte := cd.ReadPerByte
		writePerByte := cd.WritePerByte
		cl.ReadCost = func(size uint64) uint64 { return readPerByte * size }
		cl.WriteCost = func(size uint64) uint64 { return writePerByte * size }
		for _, ped := range cd.PEs {
			peType := PEOnly
			if ped.Lrt {
				peType = PELRT
			}
			pe := pf.CreatePE(ped.HwType, ped.HwIx, cl, ped.Name, peType)
			if ped.Name == pd.Grt {
				grt = pe
			}
		}
	}
	if pd.Grt != "" {
		if grt == nil {
			return nil, fmt.Errorf("platform %s names unknown grt PE %s", pd.Name, pd.Grt)
		}
		if err := pf.SetGrtPE(grt); err != nil {
			return nil, err
		}
	}
	return pf, nil
}
