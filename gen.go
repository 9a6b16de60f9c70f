package spider2

// file gen.go builds randomized synthetic applications, used by the
// scheduler stress tests.  Generated graphs are layered
// DAGs with small random rates, so their repetition vectors stay bounded.

import (
	"fmt"

	"github.com/iti/rngstream"
)

// GenerateRandomGraph builds a connected acyclic SDF graph of the given
// vertex count.  Each vertex lands on a layer; edges flow strictly forward
// across layers with rates drawn from [1, maxRate].
func GenerateRandomGraph(name string, vertexCount int, maxRate int64, rngs *rngstream.RngStream) (*Graph, error) {
	if vertexCount < 2 {
		return nil, fmt.Errorf("random graph needs at least 2 vertices, got %d", vertexCount)
	}
	g := CreateGraph(name, vertexCount, vertexCount*2, 0)

	draw := func(n int64) int64 {
		return int64(rngs.RandU01()*float64(n)) + 1
	}

	vertices := make([]*Vertex, vertexCount)
	for ix := range vertices {
		v, err := g.AddVertex(fmt.Sprintf("%s_v%d", name, ix), VertexNormal, 0, 0)
		if err != nil {
			return nil, err
		}
		vertices[ix] = v
	}

	// chain backbone keeps the graph connected; extra forward edges add
	// fan-out.  Ports are grown as edges are attached.
	type pending struct {
		src, dst int
		rate     int64
	}
	var edges []pending
	for ix := 1; ix < vertexCount; ix++ {
		edges = append(edges, pending{src: ix - 1, dst: ix, rate: draw(maxRate)})
	}
	extra := vertexCount / 2
	for n := 0; n < extra; n++ {
		src := int(rngs.RandU01() * float64(vertexCount-1))
		dst := src + 1 + int(rngs.RandU01()*float64(vertexCount-src-1))
		if dst >= vertexCount {
			dst = vertexCount - 1
		}
		if dst <= src {
			continue
		}
		edges = append(edges, pending{src: src, dst: dst, rate: draw(maxRate)})
	}

	for _, pe := range edges {
		src := vertices[pe.src]
		dst := vertices[pe.dst]
		srcPort := len(src.OutEdges)
		dstPort := len(dst.InEdges)
		src.OutEdges = append(src.OutEdges, nil)
		dst.InEdges = append(dst.InEdges, nil)
		// same rate both sides keeps every repetition count at one,
		// which bounds the task count of large generated graphs
		if _, err := g.ConnectFixed(src, srcPort, pe.rate, dst, dstPort, pe.rate); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// GenerateUniformPlatform builds a platform of identical LRT PEs spread over
// the given cluster count.
func GenerateUniformPlatform(clusterCount, pesPerCluster int) *Platform {
	pf := CreatePlatform(clusterCount)
	for c := 0; c < clusterCount; c++ {
		cl := pf.CreateCluster(pesPerCluster, &MemoryUnit{Base: uint64(c) << 32, Size: 1 << 30})
		for p := 0; p < pesPerCluster; p++ {
			pf.CreatePE("x86", p, cl, fmt.Sprintf("c%dp%d", c, p), PELRT)
		}
	}
	return pf
}
