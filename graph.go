package spider2

// file graph.go holds the hierarchical PiSDF graph model: vertices with their
// subtype, edges carrying symbolic rates and optional delays, parameters, and
// the graph container with its interface and subgraph views.  Runtime firing
// state lives in firing.go, not here.

import (
	"fmt"
	"strings"
)

// VertexType enumerates the subtypes a vertex can take.  Special subtypes
// (Fork, Join, ...) have fixed port shapes enforced at construction.
type VertexType int

const (
	VertexNormal VertexType = iota
	VertexConfig
	VertexFork
	VertexJoin
	VertexHead
	VertexTail
	VertexDuplicate
	VertexRepeat
	VertexInit
	VertexEnd
	VertexDelay
	VertexInput
	VertexOutput
	VertexGraph
	VertexExternIn
	VertexExternOut
)

var vertexTypeNames = map[VertexType]string{
	VertexNormal: "normal", VertexConfig: "config", VertexFork: "fork",
	VertexJoin: "join", VertexHead: "head", VertexTail: "tail",
	VertexDuplicate: "duplicate", VertexRepeat: "repeat", VertexInit: "init",
	VertexEnd: "end", VertexDelay: "delay", VertexInput: "input",
	VertexOutput: "output", VertexGraph: "graph", VertexExternIn: "extern-in",
	VertexExternOut: "extern-out",
}

func (vt VertexType) String() string {
	return vertexTypeNames[vt]
}

// ParamKind enumerates the four parameter flavors.
type ParamKind int

const (
	ParamStatic ParamKind = iota
	ParamDynamic
	ParamDynamicDependant
	ParamInherited
)

// A Param is a named integer parameter of a graph.  Names are case-folded at
// creation so lookup from rate expressions is case-insensitive.  Inherited
// parameters reference a parent-graph parameter by index; dynamic parameters
// receive their value from a config actor at runtime; dynamic-dependant
// parameters re-evaluate their expression once the dynamics are known.
type Param struct {
	Name   string
	Kind   ParamKind
	Ix     int
	Parent int         // slot of the parent parameter in the parent graph
	Expr   *Expression // derivation, DynamicDependant only
	value  int64
	set    bool // a Dynamic param received its value this iteration

	// ParentRef points at the parent graph's parameter.  Firing snapshots
	// replace Inherited parameters with plain ones, so this is consulted
	// only on raw graph lists.
	ParentRef *Param
}

// Value resolves the parameter against the list it belongs to.
func (p *Param) Value(params []*Param) int64 {
	switch p.Kind {
	case ParamDynamicDependant:
		if p.set {
			return p.value
		}
		return p.Expr.Evaluate(params)
	case ParamInherited:
		if p.ParentRef == nil {
			panic(fmt.Errorf("inherited parameter %s read before its parent was wired", p.Name))
		}
		return p.ParentRef.chainValue()
	default:
		return p.value
	}
}

// chainValue reads a parameter's value without its owning list, following
// inheritance links.  Derived parameters must have been resolved first.
func (p *Param) chainValue() int64 {
	switch p.Kind {
	case ParamInherited:
		if p.ParentRef == nil {
			panic(fmt.Errorf("inherited parameter %s read before its parent was wired", p.Name))
		}
		return p.ParentRef.chainValue()
	case ParamDynamicDependant:
		if !p.set {
			panic(fmt.Errorf("derived parameter %s read before resolution", p.Name))
		}
		return p.value
	default:
		return p.value
	}
}

// SetValue assigns a resolved value.  Used by the global runtime for dynamic
// parameters and by firing resolution for dynamic-dependant ones.
func (p *Param) SetValue(value int64) {
	p.value = value
	p.set = true
}

// Resolved reports whether the parameter has a usable value.
func (p *Param) Resolved(params []*Param) bool {
	switch p.Kind {
	case ParamDynamic:
		return p.set
	case ParamInherited:
		if p.ParentRef == nil {
			return false
		}
		return p.ParentRef.chainResolved()
	case ParamDynamicDependant:
		for _, name := range p.Expr.names {
			dep := findParam(params, name[1])
			if dep != nil && !dep.Resolved(params) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (p *Param) chainResolved() bool {
	switch p.Kind {
	case ParamDynamic:
		return p.set
	case ParamInherited:
		return p.ParentRef != nil && p.ParentRef.chainResolved()
	case ParamDynamicDependant:
		return p.set || !p.Expr.Dynamic()
	default:
		return true
	}
}

// Dynamic reports whether the parameter is, or derives from, a dynamic one.
func (p *Param) Dynamic(params []*Param) bool {
	switch p.Kind {
	case ParamDynamic:
		return true
	case ParamInherited:
		return p.ParentRef == nil || p.ParentRef.Dynamic(nil)
	case ParamDynamicDependant:
		return p.Expr.Dynamic()
	default:
		return false
	}
}

// A Delay holds initial tokens on an edge.  Setter and getter vertices write
// the initial tokens and drain the final ones; persistent delays have
// neither, and their storage survives across top graph iterations.
type Delay struct {
	Value      int64
	Edge       *Edge
	Setter     *Vertex
	SetterPort int
	Getter     *Vertex
	GetterPort int
	Persistent bool

	// Vertex is the delay's pass-through vertex, present only when the
	// delay has a setter or getter attached.
	Vertex *Vertex
}

// An Edge connects a source vertex output port to a sink vertex input port.
// Rates are symbolic and evaluate against the parameter list of the graph
// the edge lives in.
type Edge struct {
	Ix      int
	Source  *Vertex
	SrcPort int
	Sink    *Vertex
	SnkPort int
	SrcRate *Expression
	SnkRate *Expression
	Delay   *Delay
}

// SourceRate evaluates the production rate against a parameter list.
func (e *Edge) SourceRate(params []*Param) int64 {
	return e.SrcRate.Evaluate(params)
}

// SinkRate evaluates the consumption rate against a parameter list.
func (e *Edge) SinkRate(params []*Param) int64 {
	return e.SnkRate.Evaluate(params)
}

// DelayValue returns the delay token count, 0 when the edge carries none.
func (e *Edge) DelayValue() int64 {
	if e.Delay == nil {
		return 0
	}
	return e.Delay.Value
}

// A Vertex is one actor of a graph.  InEdges and OutEdges are indexed by
// port; slots are nil until connected.  For VertexGraph the Subgraph field
// points at the nested graph; for VertexDelay the DelayRef field points back
// at the delay the vertex stands for.
type Vertex struct {
	Name     string
	ID       int
	Ix       int
	Type     VertexType
	Graph    *Graph // owning graph
	InEdges  []*Edge
	OutEdges []*Edge
	KernelIx int

	RTInfo *RTInfo

	Subgraph *Graph // VertexGraph only
	SubIx    int    // slot in the owning graph's Subgraphs view

	DelayRef *Delay // VertexDelay only
}

// InputEdge returns the connected edge on input port ix.
func (v *Vertex) InputEdge(ix int) *Edge {
	return v.InEdges[ix]
}

// OutputEdge returns the connected edge on output port ix.
func (v *Vertex) OutputEdge(ix int) *Edge {
	return v.OutEdges[ix]
}

// Hierarchical reports whether the vertex hides a subgraph.
func (v *Vertex) Hierarchical() bool {
	return v.Type == VertexGraph
}

// Executable reports whether firings of this vertex become tasks.  Interface
// and delay vertices only shape dependency computation.
func (v *Vertex) Executable() bool {
	switch v.Type {
	case VertexInput, VertexOutput, VertexDelay, VertexGraph:
		return false
	}
	return true
}

// portShape describes the fixed port counts of special vertex subtypes.
// -1 means the count is caller-chosen.
var portShape = map[VertexType][2]int{
	VertexFork:      {1, -1},
	VertexJoin:      {-1, 1},
	VertexHead:      {-1, 1},
	VertexTail:      {-1, 1},
	VertexDuplicate: {1, -1},
	VertexRepeat:    {1, 1},
	VertexInit:      {0, 1},
	VertexEnd:       {1, 0},
	VertexDelay:     {1, 1},
	VertexInput:     {0, 1},
	VertexOutput:    {1, 0},
	VertexExternIn:  {0, 1},
	VertexExternOut: {1, 0},
}

// A Graph is an ordered collection of vertices, edges and parameters, plus
// interface and subgraph views.  Vertex and edge indices always equal their
// slot; removal swaps the last element in and rewrites its index.
type Graph struct {
	Name     string
	ID       int
	Vertices []*Vertex
	Edges    []*Edge
	Params   []*Param

	InputInterfaces  []*Vertex
	OutputInterfaces []*Vertex

	ConfigVertices []*Vertex
	Subgraphs      []*Vertex

	// Parent is the VertexGraph standing for this graph in its parent,
	// nil for the top graph.
	Parent *Vertex

	Delays []*Delay

	nextID int
}

// CreateGraph is a constructor.  Counts are capacity hints only.
func CreateGraph(name string, vertexCount, edgeCount, paramCount int) *Graph {
	g := new(Graph)
	g.Name = name
	g.Vertices = make([]*Vertex, 0, vertexCount)
	g.Edges = make([]*Edge, 0, edgeCount)
	g.Params = make([]*Param, 0, paramCount)
	return g
}

// Dynamic reports whether the graph owns at least one dynamic parameter,
// directly or through inheritance.
func (g *Graph) Dynamic() bool {
	for _, p := range g.Params {
		switch p.Kind {
		case ParamDynamic, ParamDynamicDependant:
			return true
		case ParamInherited:
			if p.Dynamic(g.Params) {
				return true
			}
		}
	}
	return false
}

// AddVertex creates a vertex of the given subtype with the given port
// counts and appends it to the graph.  Fixed-shape subtypes override the
// requested counts where the shape pins them.
func (g *Graph) AddVertex(name string, vt VertexType, inCount, outCount int) (*Vertex, error) {
	if shape, fixed := portShape[vt]; fixed {
		if shape[0] >= 0 {
			inCount = shape[0]
		}
		if shape[1] >= 0 {
			outCount = shape[1]
		}
	}
	if vt == VertexConfig && !g.Dynamic() {
		return nil, fmt.Errorf("config actor %s added to graph %s which has no dynamic parameter", name, g.Name)
	}
	v := new(Vertex)
	v.Name = name
	v.ID = g.nxtID()
	v.Type = vt
	v.Graph = g
	v.InEdges = make([]*Edge, inCount)
	v.OutEdges = make([]*Edge, outCount)
	v.KernelIx = -1
	v.SubIx = -1
	v.RTInfo = createRTInfo()

	switch vt {
	case VertexInput:
		v.Ix = len(g.InputInterfaces)
		g.InputInterfaces = append(g.InputInterfaces, v)
	case VertexOutput:
		v.Ix = len(g.OutputInterfaces)
		g.OutputInterfaces = append(g.OutputInterfaces, v)
	default:
		v.Ix = len(g.Vertices)
		g.Vertices = append(g.Vertices, v)
		if vt == VertexConfig {
			g.ConfigVertices = append(g.ConfigVertices, v)
		}
	}
	return v, nil
}

// AddSubgraph wraps sub as a hierarchical vertex of g.  The vertex exposes
// one input port per input interface of sub and one output port per output
// interface.
func (g *Graph) AddSubgraph(name string, sub *Graph) (*Vertex, error) {
	v, err := g.AddVertex(name, VertexGraph, len(sub.InputInterfaces), len(sub.OutputInterfaces))
	if err != nil {
		return nil, err
	}
	v.Subgraph = sub
	v.SubIx = len(g.Subgraphs)
	g.Subgraphs = append(g.Subgraphs, v)
	sub.Parent = v
	return v, nil
}

// RemoveVertex takes a vertex out of the graph.  The last vertex moves into
// the vacated slot and has its index rewritten, so indices stay dense.
func (g *Graph) RemoveVertex(v *Vertex) error {
	if v.Graph != g {
		return fmt.Errorf("vertex %s does not belong to graph %s", v.Name, g.Name)
	}
	ix := v.Ix
	last := len(g.Vertices) - 1
	if ix > last || g.Vertices[ix] != v {
		panic(fmt.Errorf("graph %s vertex slot %d is corrupted", g.Name, ix))
	}
	g.Vertices[ix] = g.Vertices[last]
	g.Vertices[ix].Ix = ix
	g.Vertices = g.Vertices[:last]
	if v.Type == VertexConfig {
		for i, cfg := range g.ConfigVertices {
			if cfg == v {
				g.ConfigVertices = append(g.ConfigVertices[:i], g.ConfigVertices[i+1:]...)
				break
			}
		}
	}
	return nil
}

// AddParam registers a parameter.  Names are case-folded and must be unique
// within the graph.
func (g *Graph) AddParam(name string, kind ParamKind, value int64) (*Param, error) {
	folded := strings.ToLower(name)
	if findParam(g.Params, folded) != nil {
		return nil, fmt.Errorf("graph %s already has a parameter named %s", g.Name, folded)
	}
	p := new(Param)
	p.Name = folded
	p.Kind = kind
	p.Ix = len(g.Params)
	p.Parent = -1
	p.value = value
	g.Params = append(g.Params, p)
	return p, nil
}

// AddInheritedParam registers a parameter whose value tracks a parameter of
// the parent graph.
func (g *Graph) AddInheritedParam(name string, parent *Param) (*Param, error) {
	p, err := g.AddParam(name, ParamInherited, 0)
	if err != nil {
		return nil, err
	}
	p.Parent = parent.Ix
	p.ParentRef = parent
	return p, nil
}

// AddDerivedParam registers a dynamic-dependant parameter computed from an
// expression over the graph's other parameters.
func (g *Graph) AddDerivedParam(name string, text string) (*Param, error) {
	expr, err := NewExpression(text, g.Params)
	if err != nil {
		return nil, err
	}
	p, err := g.AddParam(name, ParamDynamicDependant, 0)
	if err != nil {
		return nil, err
	}
	p.Expr = expr
	return p, nil
}

// Connect creates an edge between an output port of src and an input port of
// snk.  Rates are expression texts compiled against the graph's parameters.
func (g *Graph) Connect(src *Vertex, srcPort int, srcRate string, snk *Vertex, snkPort int, snkRate string) (*Edge, error) {
	srcExpr, err := NewExpression(srcRate, g.Params)
	if err != nil {
		return nil, err
	}
	snkExpr, err := NewExpression(snkRate, g.Params)
	if err != nil {
		return nil, err
	}
	return g.connect(src, srcPort, srcExpr, snk, snkPort, snkExpr)
}

// ConnectFixed creates an edge with constant rates.
func (g *Graph) ConnectFixed(src *Vertex, srcPort int, srcRate int64, snk *Vertex, snkPort int, snkRate int64) (*Edge, error) {
	return g.connect(src, srcPort, ConstExpression(srcRate), snk, snkPort, ConstExpression(snkRate))
}

func (g *Graph) connect(src *Vertex, srcPort int, srcRate *Expression, snk *Vertex, snkPort int, snkRate *Expression) (*Edge, error) {
	if srcPort >= len(src.OutEdges) || src.OutEdges[srcPort] != nil {
		return nil, fmt.Errorf("vertex %s output port %d is invalid or already connected", src.Name, srcPort)
	}
	if snkPort >= len(snk.InEdges) || snk.InEdges[snkPort] != nil {
		return nil, fmt.Errorf("vertex %s input port %d is invalid or already connected", snk.Name, snkPort)
	}
	e := new(Edge)
	e.Ix = len(g.Edges)
	e.Source = src
	e.SrcPort = srcPort
	e.SrcRate = srcRate
	e.Sink = snk
	e.SnkPort = snkPort
	e.SnkRate = snkRate
	src.OutEdges[srcPort] = e
	snk.InEdges[snkPort] = e
	g.Edges = append(g.Edges, e)
	return e, nil
}

// AddDelay attaches a delay of the given token count to an edge.  A dynamic
// value expression is a structural error: delay sizes must be static.
func (g *Graph) AddDelay(e *Edge, valueText string, persistent bool) (*Delay, error) {
	expr, err := NewExpression(valueText, g.Params)
	if err != nil {
		return nil, err
	}
	if expr.Dynamic() {
		return nil, fmt.Errorf("delay on edge %s->%s has dynamic value %q, a static value is required",
			e.Source.Name, e.Sink.Name, valueText)
	}
	return g.addDelay(e, expr.Evaluate(g.Params), persistent)
}

func (g *Graph) addDelay(e *Edge, value int64, persistent bool) (d *Delay, err error) {
	defer catchEvalError(&err)
	if e.Delay != nil {
		return nil, fmt.Errorf("edge %s->%s already carries a delay", e.Source.Name, e.Sink.Name)
	}
	if value < 0 {
		return nil, fmt.Errorf("delay on edge %s->%s has negative value %d", e.Source.Name, e.Sink.Name, value)
	}
	if e.Source == e.Sink {
		snkRate := e.SinkRate(g.Params)
		if value < snkRate {
			return nil, fmt.Errorf("self-loop on %s needs a delay of at least %d tokens, got %d",
				e.Source.Name, snkRate, value)
		}
	}
	d = new(Delay)
	d.Value = value
	d.Edge = e
	d.Persistent = persistent
	e.Delay = d
	g.Delays = append(g.Delays, d)
	return d, nil
}

// AttachDelayEndpoints gives a non-persistent delay its setter and getter
// vertices.  Persistent delays may have neither.
func (g *Graph) AttachDelayEndpoints(d *Delay, setter *Vertex, setterPort int, getter *Vertex, getterPort int) error {
	if d.Persistent && (setter != nil || getter != nil) {
		return fmt.Errorf("persistent delay on edge %s->%s may not have setter or getter",
			d.Edge.Source.Name, d.Edge.Sink.Name)
	}
	dv, err := g.AddVertex(fmt.Sprintf("delay::%s->%s", d.Edge.Source.Name, d.Edge.Sink.Name), VertexDelay, 1, 1)
	if err != nil {
		return err
	}
	dv.DelayRef = d
	d.Vertex = dv
	if setter != nil {
		d.Setter = setter
		d.SetterPort = setterPort
		if _, err := g.ConnectFixed(setter, setterPort, d.Value, dv, 0, d.Value); err != nil {
			return err
		}
	}
	if getter != nil {
		d.Getter = getter
		d.GetterPort = getterPort
		if _, err := g.ConnectFixed(dv, 0, d.Value, getter, getterPort, d.Value); err != nil {
			return err
		}
	}
	return nil
}

// SetterEdge returns the output edge of the delay's setter vertex feeding the
// delay, nil when the delay has no setter.
func (d *Delay) SetterEdge() *Edge {
	if d.Setter == nil {
		return nil
	}
	return d.Setter.OutputEdge(d.SetterPort)
}

// GetterEdge returns the input edge of the delay's getter vertex draining the
// delay, nil when the delay has no getter.
func (d *Delay) GetterEdge() *Edge {
	if d.Getter == nil {
		return nil
	}
	return d.Getter.InputEdge(d.GetterPort)
}

// Validate cross-checks the structural invariants of the graph and all its
// subgraphs: contiguous connected ports, interface wiring, delay endpoint
// rules.
func (g *Graph) Validate() error {
	var errList []error
	for _, v := range g.Vertices {
		for port, e := range v.InEdges {
			if e == nil {
				errList = append(errList, fmt.Errorf("graph %s vertex %s input port %d is unconnected", g.Name, v.Name, port))
			}
		}
		for port, e := range v.OutEdges {
			if e == nil {
				errList = append(errList, fmt.Errorf("graph %s vertex %s output port %d is unconnected", g.Name, v.Name, port))
			}
		}
		if v.Hierarchical() {
			errList = append(errList, v.Subgraph.Validate())
		}
	}
	for _, itf := range g.InputInterfaces {
		if itf.OutEdges[0] == nil {
			errList = append(errList, fmt.Errorf("graph %s input interface %s is unconnected inside", g.Name, itf.Name))
		}
	}
	for _, itf := range g.OutputInterfaces {
		if itf.InEdges[0] == nil {
			errList = append(errList, fmt.Errorf("graph %s output interface %s is unconnected inside", g.Name, itf.Name))
		}
	}
	for _, d := range g.Delays {
		if d.Persistent && (d.Setter != nil || d.Getter != nil) {
			errList = append(errList, fmt.Errorf("graph %s persistent delay on %s->%s has endpoints",
				g.Name, d.Edge.Source.Name, d.Edge.Sink.Name))
		}
	}
	return ReportErrs(errList)
}

func (g *Graph) nxtID() int {
	g.nextID++
	return g.nextID
}

// ReportErrs collapses a list of errors (some possibly nil) into one.
func ReportErrs(errList []error) error {
	var msgs []string
	for _, err := range errList {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(msgs, "\n"))
}
