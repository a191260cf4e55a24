package application

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Directions in pixel space, y growing downwards, in clockwise order.
const (
	dirEast = iota
	dirSouth
	dirWest
	dirNorth
)

// valuePolygon is one connected region of equal-valued pixels, with
// vertices on pixel corners in window-local pixel coordinates.
type valuePolygon struct {
	Value    float64
	Geometry orb.Geometry // orb.Polygon, or orb.MultiPolygon for odd layouts
}

type boundaryEdge struct {
	from, to int
	dir      int
}

// polygonize labels 4-connected components of equal value in a width x
// height window and returns one polygon per component, holes included.
// Pixels for which skip returns true belong to no component.
func polygonize(values []float64, width, height int, skip func(float64) bool) []valuePolygon {
	labels := labelComponents(values, width, height, skip)

	var (
		edges     [][]boundaryEdge
		compValue []float64
	)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			l := labels[y*width+x]
			if l < 0 {
				continue
			}
			if int(l) == len(edges) {
				edges = append(edges, nil)
				compValue = append(compValue, values[y*width+x])
			}
			edges[l] = appendBoundaryEdges(edges[l], labels, width, height, x, y)
		}
	}

	out := make([]valuePolygon, 0, len(edges))
	for l, compEdges := range edges {
		rings := traceRings(compEdges, width+1)
		if g := assembleRings(rings); g != nil {
			out = append(out, valuePolygon{Value: compValue[l], Geometry: g})
		}
	}
	return out
}

func sameValue(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

// labelComponents assigns component labels in scan order of each
// component's first pixel; skipped pixels get -1.
func labelComponents(values []float64, width, height int, skip func(float64) bool) []int32 {
	labels := make([]int32, width*height)
	for i := range labels {
		labels[i] = -1
	}

	var next int32
	queue := make([]int, 0, 64)
	for seed := range labels {
		if labels[seed] >= 0 || skip(values[seed]) {
			continue
		}

		v := values[seed]
		labels[seed] = next
		queue = append(queue[:0], seed)
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := i%width, i/width

			for _, n := range [4][2]int{{x + 1, y}, {x - 1, y}, {x, y + 1}, {x, y - 1}} {
				if n[0] < 0 || n[0] >= width || n[1] < 0 || n[1] >= height {
					continue
				}
				j := n[1]*width + n[0]
				if labels[j] >= 0 || skip(values[j]) || !sameValue(values[j], v) {
					continue
				}
				labels[j] = next
				queue = append(queue, j)
			}
		}
		next++
	}
	return labels
}

// appendBoundaryEdges adds the sides of pixel (x, y) that face another
// component, oriented clockwise around the pixel.
func appendBoundaryEdges(edges []boundaryEdge, labels []int32, width, height, x, y int) []boundaryEdge {
	stride := width + 1
	l := labels[y*width+x]
	other := func(nx, ny int) bool {
		return nx < 0 || nx >= width || ny < 0 || ny >= height || labels[ny*width+nx] != l
	}
	v := func(vx, vy int) int { return vy*stride + vx }

	if other(x, y-1) {
		edges = append(edges, boundaryEdge{v(x, y), v(x+1, y), dirEast})
	}
	if other(x+1, y) {
		edges = append(edges, boundaryEdge{v(x+1, y), v(x+1, y+1), dirSouth})
	}
	if other(x, y+1) {
		edges = append(edges, boundaryEdge{v(x+1, y+1), v(x, y+1), dirWest})
	}
	if other(x-1, y) {
		edges = append(edges, boundaryEdge{v(x, y+1), v(x, y), dirNorth})
	}
	return edges
}

// traceRings chains boundary edges into closed rings. Where two boundary
// paths meet at a corner the walk turns right, staying on the pixel it is
// hugging, so diagonal neighbours never join.
func traceRings(edges []boundaryEdge, stride int) []orb.Ring {
	outgoing := make(map[int][]int, len(edges))
	for i, e := range edges {
		outgoing[e.from] = append(outgoing[e.from], i)
	}

	used := make([]bool, len(edges))
	var rings []orb.Ring
	for first := range edges {
		if used[first] {
			continue
		}
		used[first] = true

		start := edges[first]
		ring := orb.Ring{vertexPoint(start.from, stride)}
		cur := start
		for {
			ring = append(ring, vertexPoint(cur.to, stride))
			next := -1
			for _, turn := range [3]int{1, 0, 3} {
				want := (cur.dir + turn) % 4
				for _, cand := range outgoing[cur.to] {
					if edges[cand].dir == want && (!used[cand] || cand == first) {
						next = cand
						break
					}
				}
				if next >= 0 {
					break
				}
			}
			if next < 0 || next == first {
				break
			}
			used[next] = true
			cur = edges[next]
		}
		rings = append(rings, dropCollinear(ring))
	}
	return rings
}

func vertexPoint(v, stride int) orb.Point {
	return orb.Point{float64(v % stride), float64(v / stride)}
}

// dropCollinear removes vertices lying on a straight run. The ring stays
// closed.
func dropCollinear(ring orb.Ring) orb.Ring {
	if len(ring) < 4 {
		return ring
	}
	pts := ring[:len(ring)-1]
	n := len(pts)

	out := make(orb.Ring, 0, n+1)
	for i := 0; i < n; i++ {
		prev, cur, next := pts[(i+n-1)%n], pts[i], pts[(i+1)%n]
		cross := (cur[0]-prev[0])*(next[1]-cur[1]) - (cur[1]-prev[1])*(next[0]-cur[0])
		if cross != 0 {
			out = append(out, cur)
		}
	}
	if len(out) == 0 {
		return ring
	}
	return append(out, out[0])
}

// signedArea is positive for rings running clockwise on screen (outer
// boundaries as traced) and negative for holes.
func signedArea(r orb.Ring) float64 {
	var a float64
	for i := 0; i+1 < len(r); i++ {
		a += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return a / 2
}

// assembleRings groups shells and holes into a polygon.
func assembleRings(rings []orb.Ring) orb.Geometry {
	var shells, holes []orb.Ring
	for _, r := range rings {
		if len(r) < 4 {
			continue
		}
		if signedArea(r) > 0 {
			shells = append(shells, r)
		} else {
			holes = append(holes, r)
		}
	}

	switch len(shells) {
	case 0:
		return nil
	case 1:
		return append(orb.Polygon{shells[0]}, holes...)
	}

	mp := make(orb.MultiPolygon, len(shells))
	for i, s := range shells {
		mp[i] = orb.Polygon{s}
	}
	for _, h := range holes {
		owner := 0
		probe := h.Bound().Center()
		for i, s := range shells {
			if planar.RingContains(s, probe) {
				owner = i
				break
			}
		}
		mp[owner] = append(mp[owner], h)
	}
	return mp
}
