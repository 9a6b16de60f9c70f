package spider2

// file desc-timing.go holds structs, methods, and data structures related to
// expression and recovery of actor execution timings and mapping
// constraints.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// A VertexTimingDesc binds one timing expression to every PE of one
// hardware type for one actor.  An empty HwType entry is the default.
type VertexTimingDesc struct {
	Vertex string `json:"vertex" yaml:"vertex"`
	HwType string `json:"hwtype,omitempty" yaml:"hwtype,omitempty"`
	Expr   string `json:"expr" yaml:"expr"`
}

// A VertexMapDesc restricts one actor to a set of PEs by name.
type VertexMapDesc struct {
	Vertex string   `json:"vertex" yaml:"vertex"`
	PEs    []string `json:"pes" yaml:"pes"`
}

// A TimingList holds the timings and mapping constraints of one experiment.
type TimingList struct {
	ListName string             `json:"listname" yaml:"listname"`
	Timings  []VertexTimingDesc `json:"timings,omitempty" yaml:"timings,omitempty"`
	Mappings []VertexMapDesc    `json:"mappings,omitempty" yaml:"mappings,omitempty"`
}

// ReadTimingList reads a timing list from a file, or from the raw slice
// when it is non-empty.
func ReadTimingList(filename string, useYAML bool, raw []byte) (*TimingList, error) {
	var err error
	if len(raw) == 0 {
		raw, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}
	example := TimingList{}
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

// WriteToFile serializes the list; the file extension selects the format.
func (tl *TimingList) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error
	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*tl)
	} else {
		bytes, merr = json.MarshalIndent(*tl, "", "\t")
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

// Apply installs the timings and mapping constraints onto a graph.  Vertex
// names match anywhere in the hierarchy; timing expressions compile against
// the parameters of the graph owning the matched vertex.
func (tl *TimingList) Apply(g *Graph, pf *Platform) error {
	peByName := make(map[string]*PE)
	for _, pe := range pf.PEs {
		peByName[pe.Name] = pe
	}
	var apply func(g *Graph) error
	apply = func(g *Graph) error {
		for _, v := range g.Vertices {
			if v.Hierarchical() {
				if err := apply(v.Subgraph); err != nil {
					return err
				}
				continue
			}
			for _, td := range tl.Timings {
				if td.Vertex != v.Name {
					continue
				}
				expr, err := NewExpression(td.Expr, g.Params)
				if err != nil {
					return fmt.Errorf("timing for %s: %w", v.Name, err)
				}
				v.RTInfo.SetTimingOnHWType(td.HwType, expr)
			}
			for _, md := range tl.Mappings {
				if md.Vertex != v.Name {
					continue
				}
				for _, peName := range md.PEs {
					pe, present := peByName[peName]
					if !present {
						return fmt.Errorf("mapping for %s names unknown PE %s", v.Name, peName)
					}
					v.RTInfo.SetMappableOnPE(pe)
				}
			}
		}
		return nil
	}
	return apply(g)
}
