package spider2

// file brv.go computes the basic repetition vector of a graph: the minimum
// number of firings of each vertex so that token production and consumption
// balance on every edge.  The null space of the topology matrix is solved
// over exact rationals and scaled by the LCM of the denominators.

import (
	"fmt"
	"math/big"
)

// ErrInconsistentGraph is wrapped into the error returned when a graph's
// rates admit no integer repetition vector.
var ErrInconsistentGraph = fmt.Errorf("inconsistent graph")

// unresolvedRV marks a repetition count that has not been computed yet.
const unresolvedRV = ^uint32(0)

// ComputeBRV returns one repetition count per vertex slot of g, evaluated
// against params.  Vertices whose every adjacent rate is zero get rv 0.
// Config vertices always fire once.  After the interior is solved, counts
// are scaled up so interface production is fully consumed.
func ComputeBRV(g *Graph, params []*Param) (rv []uint32, err error) {
	defer catchEvalError(&err)
	rv = make([]uint32, len(g.Vertices))

	// matrix slots only for executable vertices with at least one nonzero
	// adjacent rate; -1 keeps a vertex out of the matrix
	slot := make([]int, len(g.Vertices))
	nVertices := 0
	for ix, v := range g.Vertices {
		slot[ix] = -1
		if v.Type == VertexConfig {
			rv[ix] = 1
			continue
		}
		if !vertexExecutes(v, params) {
			rv[ix] = 0
			continue
		}
		slot[ix] = nVertices
		nVertices++
	}

	var rows [][]*big.Rat
	for _, e := range g.Edges {
		if !edgeInTopology(e, slot) {
			continue
		}
		row := make([]*big.Rat, nVertices)
		for i := range row {
			row[i] = new(big.Rat)
		}
		row[slot[e.Source.Ix]] = new(big.Rat).SetInt64(e.SourceRate(params))
		row[slot[e.Sink.Ix]] = new(big.Rat).SetInt64(-e.SinkRate(params))
		rows = append(rows, row)
	}

	result, err := solveNullSpace(rows, nVertices)
	if err != nil {
		return nil, fmt.Errorf("graph %s: %w", g.Name, err)
	}
	for ix := range g.Vertices {
		if slot[ix] >= 0 {
			rv[ix] = result[slot[ix]]
		}
	}

	if err := applyInterfaceScaling(g, params, rv); err != nil {
		return nil, err
	}
	if err := checkConsistency(g, params, rv); err != nil {
		return nil, err
	}
	return rv, nil
}

// vertexExecutes reports whether any adjacent rate of v is nonzero.
func vertexExecutes(v *Vertex, params []*Param) bool {
	for _, e := range v.InEdges {
		if e != nil && e.SinkRate(params) != 0 {
			return true
		}
	}
	for _, e := range v.OutEdges {
		if e != nil && e.SourceRate(params) != 0 {
			return true
		}
	}
	return false
}

// edgeInTopology filters the edges that form rows of the topology matrix:
// no interface endpoints, no config endpoints, no self loops, both ends in
// the matrix.
func edgeInTopology(e *Edge, slot []int) bool {
	src, snk := e.Source, e.Sink
	if src.Type == VertexInput || snk.Type == VertexOutput {
		return false
	}
	if src.Type == VertexConfig || snk.Type == VertexConfig {
		return false
	}
	if src == snk {
		return false
	}
	return slot[src.Ix] >= 0 && slot[snk.Ix] >= 0
}

// solveNullSpace runs Gaussian elimination with partial pivoting over the
// rational topology matrix and back-substitutes a null-space vector, scaled
// by the LCM of its denominators so every component is a positive integer.
func solveNullSpace(rows [][]*big.Rat, nVertices int) ([]uint32, error) {
	result := make([]uint32, nVertices)
	if nVertices == 0 {
		return result, nil
	}
	nEdges := len(rows)

	for i := 0; i < nEdges && i < nVertices; i++ {
		// partial pivot on column i
		pivotRow := i
		pivotMax := new(big.Rat).Abs(rows[i][i])
		for t := i + 1; t < nEdges; t++ {
			abs := new(big.Rat).Abs(rows[t][i])
			if abs.Cmp(pivotMax) > 0 {
				pivotRow = t
				pivotMax = abs
			}
		}
		if pivotMax.Sign() == 0 {
			break
		}
		rows[i], rows[pivotRow] = rows[pivotRow], rows[i]

		pivot := new(big.Rat).Set(rows[i][i])
		for t := i; t < nVertices; t++ {
			rows[i][t].Quo(rows[i][t], pivot)
		}
		for j := i + 1; j < nEdges; j++ {
			factor := new(big.Rat).Set(rows[j][i])
			if factor.Sign() == 0 {
				continue
			}
			for k := 0; k < nVertices; k++ {
				prod := new(big.Rat).Mul(factor, rows[i][k])
				rows[j][k].Sub(rows[j][k], prod)
			}
		}
	}

	// back substitution: free variables at 1
	rational := make([]*big.Rat, nVertices)
	for i := range rational {
		rational[i] = big.NewRat(1, 1)
	}
	for i := min(nEdges, nVertices) - 1; i >= 0; i-- {
		sum := new(big.Rat)
		for k := i + 1; k < nVertices; k++ {
			prod := new(big.Rat).Mul(rational[k], rows[i][k])
			sum.Add(sum, prod)
		}
		if sum.Sign() != 0 {
			if rows[i][i].Sign() == 0 {
				return nil, fmt.Errorf("%w: null pivot on topology matrix diagonal [%d][%d]",
					ErrInconsistentGraph, i, i)
			}
			sum.Abs(sum)
			rational[i] = sum.Quo(sum, rows[i][i])
			rational[i].Abs(rational[i])
		}
	}

	// scale by the LCM of the denominators
	lcmValue := big.NewInt(1)
	for _, r := range rational {
		lcmValue = lcm(lcmValue, r.Denom())
	}
	lcmRat := new(big.Rat).SetInt(lcmValue)
	for i, r := range rational {
		scaled := new(big.Rat).Mul(r, lcmRat)
		scaled.Abs(scaled)
		if !scaled.IsInt() {
			return nil, fmt.Errorf("%w: component %d is not integer after LCM scaling", ErrInconsistentGraph, i)
		}
		value := scaled.Num().Int64()
		if value <= 0 || value > int64(^uint32(0)>>1) {
			return nil, fmt.Errorf("%w: repetition count %d out of range", ErrInconsistentGraph, value)
		}
		result[i] = uint32(value)
	}
	return result, nil
}

// applyInterfaceScaling grows the interior repetition vector so that every
// interface's production (or expected consumption) is covered in one graph
// firing.  Scaling is uniform, keeping edge balance intact.
func applyInterfaceScaling(g *Graph, params []*Param, rv []uint32) error {
	scale := int64(1)
	for _, itf := range g.InputInterfaces {
		e := itf.OutputEdge(0)
		ifRate := e.SourceRate(params)
		inner := e.SinkRate(params) * int64(rv[e.Sink.Ix]) * scale
		if ifRate > 0 && inner > 0 && inner < ifRate {
			scale *= ceilDiv(ifRate, inner)
		}
	}
	for _, itf := range g.OutputInterfaces {
		e := itf.InputEdge(0)
		ifRate := e.SinkRate(params)
		inner := e.SourceRate(params) * int64(rv[e.Source.Ix]) * scale
		if ifRate > 0 && inner > 0 && inner < ifRate {
			scale *= ceilDiv(ifRate, inner)
		}
	}
	if scale > 1 {
		for ix, v := range g.Vertices {
			if v.Type != VertexConfig && rv[ix] > 0 {
				rv[ix] = uint32(int64(rv[ix]) * scale)
			}
		}
	}
	return nil
}

// checkConsistency re-verifies token balance on every interior edge of the
// final vector.
func checkConsistency(g *Graph, params []*Param, rv []uint32) error {
	for _, e := range g.Edges {
		if e.Source.Type == VertexInput || e.Sink.Type == VertexOutput ||
			e.Source.Type == VertexConfig || e.Sink.Type == VertexConfig {
			continue
		}
		prod := e.SourceRate(params) * int64(rv[e.Source.Ix])
		cons := e.SinkRate(params) * int64(rv[e.Sink.Ix])
		if prod != cons {
			return fmt.Errorf("%w: edge %s->%s produces %d but consumes %d",
				ErrInconsistentGraph, e.Source.Name, e.Sink.Name, prod, cons)
		}
	}
	return nil
}

func lcm(a, b *big.Int) *big.Int {
	if a.Sign() == 0 || b.Sign() == 0 {
		return big.NewInt(0)
	}
	gcd := new(big.Int).GCD(nil, nil, a, b)
	result := new(big.Int).Div(a, gcd)
	return result.Mul(result, b)
}

// floorDiv divides with rounding toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// ceilDiv divides with rounding toward positive infinity.
func ceilDiv(a, b int64) int64 {
	return -floorDiv(-a, b)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
