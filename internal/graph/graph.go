// Package graph provides the fleet's map and graph store: the static
// workspace topology that the planner searches over.
//
// Nodes are integer-identified aisle/junction/shelf/workstation locations
// with planar coordinates; edges are the directed traversal costs between
// adjacent nodes. The store wraps github.com/katalvlaran/lvlath/core.Graph
// as its underlying weighted directed graph, carrying planar coordinates in
// lvlath vertex Metadata so the heuristic can recover them without a parallel
// lookup table.
package graph

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/katalvlaran/lvlath/core"
)

// NodeID identifies a location in the workspace.
type NodeID int64

// Cost is an edge traversal cost, expressed in whole time ticks.
type Cost int64

// ErrNodeNotFound is returned when an operation references a node absent
// from the store.
var ErrNodeNotFound = errors.New("graph: node not found")

// ErrDuplicateNode is returned by Load when the source declares the same
// node id twice.
var ErrDuplicateNode = errors.New("graph: duplicate node id")

// Node is a single location: an id, planar coordinates, and whether it is
// currently open for occupancy (a closed node can be declared unusable by
// configuration without removing it from the topology).
type Node struct {
	ID   NodeID
	X, Y float64
	Open bool
}

// Source is the plain-data form of a workspace topology, as decoded from
// configuration. It is intentionally decoupled from the lvlath-backed Store
// so that config loading never needs to import lvlath directly.
type Source struct {
	Nodes []Node
	Edges []struct {
		From, To NodeID
		Weight   Cost
	}
}

// Store is the fleet's map and graph store. It is safe for concurrent use;
// all mutation happens during Load and the store is read-only afterward, so
// concurrent readers need no external synchronization beyond what lvlath's
// Graph itself provides.
type Store struct {
	g     *core.Graph
	open  map[NodeID]bool
	count int
}

// NewStore constructs an empty store over a directed, weighted lvlath graph.
func NewStore() *Store {
	return &Store{
		g:    core.NewGraph(core.WithDirected(true), core.WithWeighted()),
		open: make(map[NodeID]bool),
	}
}

func vid(id NodeID) string {
	return strconv.FormatInt(int64(id), 10)
}

// Load populates the store from a Source, replacing any existing topology.
// Edges are added in both directions only if the source lists them that way;
// the store does not assume symmetry, matching aisles that are one-way.
func Load(src Source) (*Store, error) {
	st := NewStore()

	for _, n := range src.Nodes {
		if st.open == nil {
			st.open = make(map[NodeID]bool)
		}
		idStr := vid(n.ID)
		if st.g.HasVertex(idStr) {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateNode, n.ID)
		}
		if err := st.g.AddVertex(idStr); err != nil {
			return nil, fmt.Errorf("graph: add vertex %d: %w", n.ID, err)
		}
		v := st.g.VerticesMap()[idStr]
		v.Metadata["x"] = n.X
		v.Metadata["y"] = n.Y
		st.open[n.ID] = n.Open
		st.count++
	}

	for _, e := range src.Edges {
		from, to := vid(e.From), vid(e.To)
		if !st.g.HasVertex(from) {
			return nil, fmt.Errorf("%w: edge from %d", ErrNodeNotFound, e.From)
		}
		if !st.g.HasVertex(to) {
			return nil, fmt.Errorf("%w: edge to %d", ErrNodeNotFound, e.To)
		}
		if _, err := st.g.AddEdge(from, to, int64(e.Weight)); err != nil {
			return nil, fmt.Errorf("graph: add edge %d->%d: %w", e.From, e.To, err)
		}
	}

	return st, nil
}

// IsValid reports whether n names a node in the store that is currently
// open for occupancy.
func (s *Store) IsValid(n NodeID) bool {
	open, ok := s.open[n]
	return ok && open
}

// Neighbors returns the nodes directly reachable from n via an outbound
// edge, paired with the edge's traversal cost. Order matches lvlath's
// deterministic (sorted-by-edge-id) iteration.
func (s *Store) Neighbors(n NodeID) ([]NodeID, []Cost, error) {
	edges, err := s.g.Neighbors(vid(n))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %d", ErrNodeNotFound, n)
	}
	ids := make([]NodeID, 0, len(edges))
	costs := make([]Cost, 0, len(edges))
	for _, e := range edges {
		to, err := strconv.ParseInt(e.To, 10, 64)
		if err != nil {
			continue
		}
		nd := NodeID(to)
		if !s.IsValid(nd) {
			continue
		}
		ids = append(ids, nd)
		costs = append(costs, Cost(e.Weight))
	}
	return ids, costs, nil
}

// Coord returns the planar coordinates of a node.
func (s *Store) Coord(n NodeID) (x, y float64, err error) {
	v, ok := s.g.VerticesMap()[vid(n)]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %d", ErrNodeNotFound, n)
	}
	return v.Metadata["x"].(float64), v.Metadata["y"].(float64), nil
}

// Heuristic is the Euclidean-distance lower bound used by the planner's A*
// search. It is admissible for any grid where edge weight is at least the
// straight-line distance between endpoints, which holds for the fleet's
// integer-tick aisle costs.
func (s *Store) Heuristic(a, b NodeID) float64 {
	ax, ay, errA := s.Coord(a)
	bx, by, errB := s.Coord(b)
	if errA != nil || errB != nil {
		return 0
	}
	dx, dy := ax-bx, ay-by
	return math.Sqrt(dx*dx + dy*dy)
}

// Len returns the number of nodes in the store.
func (s *Store) Len() int {
	return s.count
}
