// Package planner implements time-expanded A* search over a graph.Store,
// with an optional shared reservation table for prioritized multi-robot
// planning.
//
// The search style (container/heap priority queue, parent-pointer path
// reconstruction) is carried over from the fleet's original single-robot
// space-time search, generalized to a three-key tie-break (f, then g, then
// t) so that among equally-promising nodes the search prefers shorter real
// distance and, failing that, earlier arrival.
package planner

import (
	"container/heap"
	"errors"
	"fmt"

	"github.com/agvfleet/control-plane/internal/graph"
)

// Tick is a discrete simulation time step.
type Tick int64

// ErrNoPath is returned when the open set empties before reaching the goal.
var ErrNoPath = errors.New("planner: no path found")

// ErrBatchFailed is returned by PlanPrioritized when any robot in the batch
// fails to find a path; the whole batch is rejected rather than partially
// committed.
var ErrBatchFailed = errors.New("planner: prioritized batch failed")

// TimedNode is a single (node, time) state along a path.
type TimedNode struct {
	Node graph.NodeID
	T    Tick
}

// Path is an ordered space-time path, inclusive of start and goal states.
type Path []TimedNode

// NodePath collapses a Path's wait-loops, returning the ordered sequence of
// distinct nodes visited. It is the surface the motion layer consumes: waits
// are enforced by re-issuing the current target, not represented here.
func (p Path) NodePath() []graph.NodeID {
	if len(p) == 0 {
		return nil
	}
	out := make([]graph.NodeID, 0, len(p))
	out = append(out, p[0].Node)
	for _, tn := range p[1:] {
		if tn.Node != out[len(out)-1] {
			out = append(out, tn.Node)
		}
	}
	return out
}

// Goal is the time the path reaches its destination.
func (p Path) Goal() (graph.NodeID, Tick) {
	if len(p) == 0 {
		return 0, 0
	}
	last := p[len(p)-1]
	return last.Node, last.T
}

type state struct {
	node graph.NodeID
	t    Tick
}

type node struct {
	state  state
	g      float64
	f      float64
	parent *node
	index  int
}

type openHeap []*node

func (h openHeap) Len() int { return len(h) }
func (h openHeap) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	if h[i].g != h[j].g {
		return h[i].g < h[j].g
	}
	return h[i].state.t < h[j].state.t
}
func (h openHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *openHeap) Push(x any) {
	n := x.(*node)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *openHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}

// ReservationTable forbids (node, t) and (u->v, t) states to subsequent
// planning calls within a single prioritized batch. It is transient by
// design: a fresh table is created per PlanPrioritized call and discarded
// once the batch resolves.
type ReservationTable struct {
	nodes map[graph.NodeID]map[Tick]bool
	edges map[graph.NodeID]map[graph.NodeID]map[Tick]bool
}

// NewReservationTable returns an empty table.
func NewReservationTable() *ReservationTable {
	return &ReservationTable{
		nodes: make(map[graph.NodeID]map[Tick]bool),
		edges: make(map[graph.NodeID]map[graph.NodeID]map[Tick]bool),
	}
}

func (rt *ReservationTable) reserveNode(n graph.NodeID, t Tick) {
	if rt.nodes[n] == nil {
		rt.nodes[n] = make(map[Tick]bool)
	}
	rt.nodes[n][t] = true
}

func (rt *ReservationTable) reserveEdge(u, v graph.NodeID, t Tick) {
	if rt.edges[u] == nil {
		rt.edges[u] = make(map[graph.NodeID]map[Tick]bool)
	}
	if rt.edges[u][v] == nil {
		rt.edges[u][v] = make(map[Tick]bool)
	}
	rt.edges[u][v][t] = true
}

func (rt *ReservationTable) nodeReserved(n graph.NodeID, t Tick) bool {
	return rt.nodes[n] != nil && rt.nodes[n][t]
}

func (rt *ReservationTable) edgeReserved(u, v graph.NodeID, t Tick) bool {
	return rt.edges[u] != nil && rt.edges[u][v] != nil && rt.edges[u][v][t]
}

// register commits a resolved path's occupied states into the table: every
// (node, t) along the path, every true move (u->v) at the interval it
// departs, and the goal held for stayAtGoal additional ticks so later
// robots cannot step onto a parked one.
func (rt *ReservationTable) register(p Path, stayAtGoal Tick) {
	for i, tn := range p {
		rt.reserveNode(tn.Node, tn.T)
		if i > 0 && p[i-1].Node != tn.Node {
			rt.reserveEdge(p[i-1].Node, tn.Node, p[i-1].T)
		}
	}
	if len(p) == 0 {
		return
	}
	goalNode, goalT := p.Goal()
	for dt := Tick(1); dt <= stayAtGoal; dt++ {
		rt.reserveNode(goalNode, goalT+dt)
	}
}

// PlanSingle runs unconstrained time-expanded A* from start to goal with no
// reservation table, used for ad hoc single-robot movement between
// sub-operations where conflict avoidance against other robots is not
// required at that granularity.
func PlanSingle(g *graph.Store, start, goal graph.NodeID, maxTime Tick) (Path, error) {
	return planWithReservations(g, start, goal, nil, maxTime)
}

// PlanConstrained runs time-expanded A* from start to goal rejecting any
// state forbidden by rt.
func PlanConstrained(g *graph.Store, start, goal graph.NodeID, rt *ReservationTable, maxTime Tick) (Path, error) {
	return planWithReservations(g, start, goal, rt, maxTime)
}

func planWithReservations(g *graph.Store, start, goal graph.NodeID, rt *ReservationTable, maxTime Tick) (Path, error) {
	if !g.IsValid(start) {
		return nil, fmt.Errorf("%w: invalid start %d", ErrNoPath, start)
	}
	if !g.IsValid(goal) {
		return nil, fmt.Errorf("%w: invalid goal %d", ErrNoPath, goal)
	}

	h := func(n graph.NodeID) float64 { return g.Heuristic(n, goal) }

	open := &openHeap{}
	heap.Init(open)
	heap.Push(open, &node{state: state{node: start, t: 0}, g: 0, f: h(start)})

	visited := make(map[state]bool)

	for open.Len() > 0 {
		cur := heap.Pop(open).(*node)

		if cur.state.node == goal {
			return reconstruct(cur), nil
		}
		if visited[cur.state] {
			continue
		}
		visited[cur.state] = true

		if cur.state.t >= maxTime {
			continue
		}
		nextT := cur.state.t + 1

		// Wait.
		if rt == nil || !rt.nodeReserved(cur.state.node, nextT) {
			ws := state{node: cur.state.node, t: nextT}
			if !visited[ws] {
				gCost := cur.g + 1
				heap.Push(open, &node{state: ws, g: gCost, f: gCost + h(cur.state.node), parent: cur})
			}
		}

		// Move.
		neighbors, costs, err := g.Neighbors(cur.state.node)
		if err != nil {
			continue
		}
		for i, nb := range neighbors {
			if rt != nil && rt.nodeReserved(nb, nextT) {
				continue
			}
			if rt != nil && rt.edgeReserved(nb, cur.state.node, cur.state.t) {
				continue
			}
			ms := state{node: nb, t: nextT}
			if visited[ms] {
				continue
			}
			gCost := cur.g + float64(costs[i])
			heap.Push(open, &node{state: ms, g: gCost, f: gCost + h(nb), parent: cur})
		}
	}

	return nil, ErrNoPath
}

func reconstruct(n *node) Path {
	var path Path
	for cur := n; cur != nil; cur = cur.parent {
		path = append(Path{{Node: cur.state.node, T: cur.state.t}}, path...)
	}
	return path
}

// Request is one leg of a prioritized multi-robot planning batch.
type Request struct {
	Start, Goal graph.NodeID
}

// PlanPrioritized plans paths for reqs in order, treating list order as
// priority: lower index wins conflicts. Each robot plans against the
// reservation table accumulated from all higher-priority robots already
// resolved in this call. On any robot's failure the whole batch is
// rejected; the algorithm never reorders or falls back, since prioritized
// planning is not complete and partial commitment would leave the fleet in
// an inconsistent state.
func PlanPrioritized(g *graph.Store, reqs []Request, stayAtGoal Tick, maxTime Tick) ([]Path, error) {
	rt := NewReservationTable()
	paths := make([]Path, len(reqs))

	for i, r := range reqs {
		p, err := planWithReservations(g, r.Start, r.Goal, rt, maxTime)
		if err != nil {
			return nil, fmt.Errorf("%w: robot %d: %w", ErrBatchFailed, i, err)
		}
		rt.register(p, stayAtGoal)
		paths[i] = p
	}

	return paths, nil
}
