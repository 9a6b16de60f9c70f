package spider2

// file desc-graph.go holds the serializable description of an application
// graph.  Descriptions are what users write (in yaml or json); the runtime
// Graph structures are built from them, and can be exported back so that a
// built graph round-trips through its description.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// A ParamDesc describes one graph parameter.  Kind is one of "static",
// "dynamic", "derived", "inherited".
type ParamDesc struct {
	Name   string `json:"name" yaml:"name"`
	Kind   string `json:"kind" yaml:"kind"`
	Value  int64  `json:"value,omitempty" yaml:"value,omitempty"`
	Expr   string `json:"expr,omitempty" yaml:"expr,omitempty"`
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`
}

// A VertexDesc describes one actor.  Type takes the vertex subtype names
// ("normal", "config", "fork", ...); special subtypes ignore the port counts
// their shape pins.
type VertexDesc struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	InCount  int    `json:"incount,omitempty" yaml:"incount,omitempty"`
	OutCount int    `json:"outcount,omitempty" yaml:"outcount,omitempty"`
	Kernel   int    `json:"kernel,omitempty" yaml:"kernel,omitempty"`
}

// A DelayDesc describes initial tokens on an edge.
type DelayDesc struct {
	Value      string `json:"value" yaml:"value"`
	Persistent bool   `json:"persistent,omitempty" yaml:"persistent,omitempty"`
	Setter     string `json:"setter,omitempty" yaml:"setter,omitempty"`
	SetterPort int    `json:"setterport,omitempty" yaml:"setterport,omitempty"`
	Getter     string `json:"getter,omitempty" yaml:"getter,omitempty"`
	GetterPort int    `json:"getterport,omitempty" yaml:"getterport,omitempty"`
}

// An EdgeDesc describes one edge.  Src and Dst name vertices, subgraph
// vertices, or interfaces of the containing graph.
type EdgeDesc struct {
	Src     string     `json:"src" yaml:"src"`
	SrcPort int        `json:"srcport" yaml:"srcport"`
	SrcRate string     `json:"srcrate" yaml:"srcrate"`
	Dst     string     `json:"dst" yaml:"dst"`
	DstPort int        `json:"dstport" yaml:"dstport"`
	DstRate string     `json:"dstrate" yaml:"dstrate"`
	Delay   *DelayDesc `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// A GraphDesc describes one (sub)graph.  Subgraphs nest their own full
// description.
type GraphDesc struct {
	Name      string       `json:"name" yaml:"name"`
	Params    []ParamDesc  `json:"params,omitempty" yaml:"params,omitempty"`
	Vertices  []VertexDesc `json:"vertices,omitempty" yaml:"vertices,omitempty"`
	InputIfs  []string     `json:"inputifs,omitempty" yaml:"inputifs,omitempty"`
	OutputIfs []string     `json:"outputifs,omitempty" yaml:"outputifs,omitempty"`
	Subgraphs []GraphDesc  `json:"subgraphs,omitempty" yaml:"subgraphs,omitempty"`
	Edges     []EdgeDesc   `json:"edges,omitempty" yaml:"edges,omitempty"`
}

var vertexTypeByName = map[string]VertexType{
	"normal": VertexNormal, "config": VertexConfig, "fork": VertexFork,
	"join": VertexJoin, "head": VertexHead, "tail": VertexTail,
	"duplicate": VertexDuplicate, "repeat": VertexRepeat, "init": VertexInit,
	"end": VertexEnd, "extern-in": VertexExternIn, "extern-out": VertexExternOut,
}

// ReadGraphDesc reads a graph description from a file, or from the raw
// slice when it is non-empty.
func ReadGraphDesc(filename string, useYAML bool, raw []byte) (*GraphDesc, error) {
	var err error
	if len(raw) == 0 {
		raw, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}
	example := GraphDesc{}
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
func (gd *GraphDesc) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error
	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*gd)
	} else {
		bytes, merr = json.MarshalIndent(*gd, "", "\t")
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

// BuildGraph turns a description into a runtime graph, recursing into
// subgraph descriptions.
func BuildGraph(gd *GraphDesc) (*Graph, error) {
	g := CreateGraph(gd.Name, len(gd.Vertices), len(gd.Edges), len(gd.Params))
	if err := populateGraph(g, gd); err != nil {
		return nil, err
	}
	return g, nil
}

func populateGraph(g *Graph, gd *GraphDesc) error {
	for _, pd := range gd.Params {
		var err error
		switch pd.Kind {
		case "static", "":
			_, err = g.AddParam(pd.Name, ParamStatic, pd.Value)
		case "dynamic":
			_, err = g.AddParam(pd.Name, ParamDynamic, 0)
		case "derived":
			_, err = g.AddDerivedParam(pd.Name, pd.Expr)
		case "inherited":
			// resolved against the parent at wiring time below
			_, err = g.AddParam(pd.Name, ParamInherited, 0)
		default:
			err = fmt.Errorf("graph %s parameter %s has unknown kind %q", gd.Name, pd.Name, pd.Kind)
		}
		if err != nil {
			return err
		}
	}

	byName := make(map[string]*Vertex)
	for _, vd := range gd.Vertices {
		vt, known := vertexTypeByName[vd.Type]
		if !known {
			return fmt.Errorf("graph %s vertex %s has unknown type %q", gd.Name, vd.Name, vd.Type)
		}
		v, err := g.AddVertex(vd.Name, vt, vd.InCount, vd.OutCount)
		if err != nil {
			return err
		}
		v.KernelIx = vd.Kernel
		byName[vd.Name] = v
	}
	for _, name := range gd.InputIfs {
		v, err := g.AddVertex(name, VertexInput, 0, 1)
		if err != nil {
			return err
		}
		byName[name] = v
	}
	for _, name := range gd.OutputIfs {
		v, err := g.AddVertex(name, VertexOutput, 1, 0)
		if err != nil {
			return err
		}
		byName[name] = v
	}
	for ix := range gd.Subgraphs {
		sd := &gd.Subgraphs[ix]
		sub, err := BuildGraph(sd)
		if err != nil {
			return err
		}
		// inherited parameters of the subgraph bind to same-named
		// parameters of this graph
		for _, p := range sub.Params {
			if p.Kind == ParamInherited {
				parent := findParam(g.Params, p.Name)
				if parent == nil {
					return fmt.Errorf("subgraph %s inherits unknown parameter %s", sd.Name, p.Name)
				}
				p.Parent = parent.Ix
				p.ParentRef = parent
			}
		}
		v, err := g.AddSubgraph(sd.Name, sub)
		if err != nil {
			return err
		}
		byName[sd.Name] = v
	}

	for _, ed := range gd.Edges {
		src, present := byName[ed.Src]
		if !present {
			return fmt.Errorf("graph %s edge source %s unknown", gd.Name, ed.Src)
		}
		dst, present := byName[ed.Dst]
		if !present {
			return fmt.Errorf("graph %s edge sink %s unknown", gd.Name, ed.Dst)
		}
		e, err := g.Connect(src, ed.SrcPort, ed.SrcRate, dst, ed.DstPort, ed.DstRate)
		if err != nil {
			return err
		}
		if ed.Delay == nil {
			continue
		}
		d, err := g.AddDelay(e, ed.Delay.Value, ed.Delay.Persistent)
		if err != nil {
			return err
		}
		if ed.Delay.Setter != "" || ed.Delay.Getter != "" {
			setter := byName[ed.Delay.Setter]
			getter := byName[ed.Delay.Getter]
			if err := g.AttachDelayEndpoints(d, setter, ed.Delay.SetterPort, getter, ed.Delay.GetterPort); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExportGraph turns a runtime graph back into its description.  Delay
// vertices and their implicit edges are folded back into the delay record
// they came from.
func ExportGraph(g *Graph) *GraphDesc {
	gd := new(GraphDesc)
	gd.Name = g.Name
	for _, p := range g.Params {
		pd := ParamDesc{Name: p.Name}
		switch p.Kind {
		case ParamStatic:
			pd.Kind = "static"
			pd.Value = p.Value(g.Params)
		case ParamDynamic:
			pd.Kind = "dynamic"
		case ParamDynamicDependant:
			pd.Kind = "derived"
			pd.Expr = p.Expr.Text()
		case ParamInherited:
			pd.Kind = "inherited"
		}
		gd.Params = append(gd.Params, pd)
	}
	for _, v := range g.Vertices {
		switch v.Type {
		case VertexGraph:
			gd.Subgraphs = append(gd.Subgraphs, *ExportGraph(v.Subgraph))
		case VertexDelay:
			// re-created by the owning delay's description
		default:
			gd.Vertices = append(gd.Vertices, VertexDesc{
				Name:     v.Name,
				Type:     v.Type.String(),
				InCount:  len(v.InEdges),
				OutCount: len(v.OutEdges),
				Kernel:   v.KernelIx,
			})
		}
	}
	for _, itf := range g.InputInterfaces {
		gd.InputIfs = append(gd.InputIfs, itf.Name)
	}
	for _, itf := range g.OutputInterfaces {
		gd.OutputIfs = append(gd.OutputIfs, itf.Name)
	}
	for _, e := range g.Edges {
		if e.Source.Type == VertexDelay || e.Sink.Type == VertexDelay {
			continue
		}
		ed := EdgeDesc{
			Src:     e.Source.Name,
			SrcPort: e.SrcPort,
			SrcRate: e.SrcRate.Text(),
			Dst:     e.Sink.Name,
			DstPort: e.SnkPort,
			DstRate: e.SnkRate.Text(),
		}
		if e.Delay != nil {
			dd := DelayDesc{
				Value:      fmt.Sprintf("%d", e.Delay.Value),
				Persistent: e.Delay.Persistent,
			}
			if e.Delay.Setter != nil {
				dd.Setter = e.Delay.Setter.Name
				dd.SetterPort = e.Delay.SetterPort
			}
			if e.Delay.Getter != nil {
				dd.Getter = e.Delay.Getter.Name
				dd.GetterPort = e.Delay.GetterPort
			}
			ed.Delay = &dd
		}
		gd.Edges = append(gd.Edges, ed)
	}
	return gd
}
