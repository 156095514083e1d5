// Package graph maintains the persistent event graph: one node per distinct
// event or correlation, typed directed edges between them, and aggregate
// stats. All mutation is serialized through a single owning goroutine
// consuming a bounded queue, so callers never share graph state; reads go
// through the same queue and reply on per-query channels.
package graph

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/telhawk-systems/causeway/internal/correlation"
	"github.com/telhawk-systems/causeway/internal/metrics"
	"github.com/telhawk-systems/causeway/internal/models"
)

// ErrStopped is returned for operations submitted after shutdown.
var ErrStopped = errors.New("graph: stopped")

type edgeKey struct {
	from string
	to   string
	typ  models.EdgeType
}

// msg is one unit of work for the graph owner. Exactly one field is set.
type msg struct {
	group    *correlation.Group
	anomaly  *anomalyRecord
	stats    chan models.GraphStats
	node     *nodeQuery
	interval *rangeQuery
}

type anomalyRecord struct {
	corr *models.AnomalyCorrelation
}

type nodeQuery struct {
	id    string
	reply chan nodeReply
}

type rangeQuery struct {
	from  time.Time
	to    time.Time
	reply chan []models.GraphNode
}

type nodeReply struct {
	hood models.GraphNeighborhood
	ok   bool
}

// Graph is the single-writer event graph. Nodes and edges grow
// monotonically; the engine never deletes them.
type Graph struct {
	msgs chan msg
	quit chan struct{}
	done chan struct{}

	stopOnce sync.Once

	// Owned exclusively by run; other goroutines may read only after done
	// is closed.
	nodes map[string]models.GraphNode
	edges map[edgeKey]models.GraphEdge
	out   map[string][]models.GraphEdge
	in    map[string][]models.GraphEdge
	stats models.GraphStats
}

// New creates a graph whose mutation queue holds queueSize pending records.
func New(queueSize int) *Graph {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Graph{
		msgs:  make(chan msg, queueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		nodes: make(map[string]models.GraphNode),
		edges: make(map[edgeKey]models.GraphEdge),
		out:   make(map[string][]models.GraphEdge),
		in:    make(map[string][]models.GraphEdge),
	}
}

// Start launches the owning goroutine.
func (g *Graph) Start() {
	go g.run()
}

// Stop drains the pending queue and stops the owner. Safe to call more than
// once.
func (g *Graph) Stop() {
	g.stopOnce.Do(func() { close(g.quit) })
	<-g.done
}

func (g *Graph) run() {
	defer close(g.done)
	for {
		select {
		case <-g.quit:
			for {
				select {
				case m := <-g.msgs:
					g.apply(m)
				default:
					return
				}
			}
		case m := <-g.msgs:
			g.apply(m)
		}
	}
}

func (g *Graph) apply(m msg) {
	switch {
	case m.group != nil:
		g.applyGroup(m.group)
	case m.anomaly != nil:
		g.applyAnomaly(m.anomaly.corr)
	case m.stats != nil:
		m.stats <- g.stats
	case m.node != nil:
		m.node.reply <- g.neighborhood(m.node.id)
	case m.interval != nil:
		m.interval.reply <- g.nodesBetween(m.interval.from, m.interval.to)
	}
}

// send enqueues a message unless the graph is stopping.
func (g *Graph) send(ctx context.Context, m msg) error {
	select {
	case <-g.quit:
		return ErrStopped
	default:
	}
	select {
	case g.msgs <- m:
		return nil
	case <-g.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record enqueues a finalized correlation group for graph insertion.
func (g *Graph) Record(ctx context.Context, group *correlation.Group) error {
	return g.send(ctx, msg{group: group})
}

// RecordAnomaly enqueues a finalized anomaly correlation for graph
// insertion.
func (g *Graph) RecordAnomaly(ctx context.Context, corr *models.AnomalyCorrelation) error {
	return g.send(ctx, msg{anomaly: &anomalyRecord{corr: corr}})
}

// Stats returns the current aggregate metadata.
func (g *Graph) Stats(ctx context.Context) (models.GraphStats, error) {
	reply := make(chan models.GraphStats, 1)
	if err := g.send(ctx, msg{stats: reply}); err != nil {
		return models.GraphStats{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-g.done:
		return models.GraphStats{}, ErrStopped
	case <-ctx.Done():
		return models.GraphStats{}, ctx.Err()
	}
}

// Neighborhood returns a node with its incident edges. ok is false for an
// unknown node.
func (g *Graph) Neighborhood(ctx context.Context, id string) (models.GraphNeighborhood, bool, error) {
	q := &nodeQuery{id: id, reply: make(chan nodeReply, 1)}
	if err := g.send(ctx, msg{node: q}); err != nil {
		return models.GraphNeighborhood{}, false, err
	}
	select {
	case r := <-q.reply:
		return r.hood, r.ok, nil
	case <-g.done:
		return models.GraphNeighborhood{}, false, ErrStopped
	case <-ctx.Done():
		return models.GraphNeighborhood{}, false, ctx.Err()
	}
}

// Range returns the nodes whose timestamp falls within [from, to], ordered
// by timestamp then identifier.
func (g *Graph) Range(ctx context.Context, from, to time.Time) ([]models.GraphNode, error) {
	q := &rangeQuery{from: from, to: to, reply: make(chan []models.GraphNode, 1)}
	if err := g.send(ctx, msg{interval: q}); err != nil {
		return nil, err
	}
	select {
	case nodes := <-q.reply:
		return nodes, nil
	case <-g.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// applyGroup upserts the group's event nodes, its correlation node, the
// causal edges from explicit parent hints, co-occurrence edges between
// unlinked member pairs, and membership edges from the correlation node.
func (g *Graph) applyGroup(group *correlation.Group) {
	corr := group.Correlation

	inGroup := make(map[string]bool, len(group.Members))
	for _, ev := range group.Members {
		inGroup[ev.ID] = true
		g.upsertNode(models.GraphNode{
			ID:        ev.ID,
			Kind:      models.NodeEvent,
			Source:    ev.Source,
			Type:      ev.Type,
			Severity:  ev.Severity,
			Timestamp: ev.Timestamp,
		})
	}
	g.upsertNode(models.GraphNode{
		ID:        corr.ID,
		Kind:      models.NodeCorrelation,
		Type:      string(corr.Type),
		Timestamp: corr.DetectedAt,
	})

	linked := make(map[[2]string]bool)
	for _, ev := range group.Members {
		if ev.ParentEventID == "" || !inGroup[ev.ParentEventID] {
			continue
		}
		g.upsertEdge(models.GraphEdge{From: ev.ParentEventID, To: ev.ID, Type: models.EdgeCauses})
		linked[[2]string{ev.ParentEventID, ev.ID}] = true
		linked[[2]string{ev.ID, ev.ParentEventID}] = true
	}

	for i, a := range group.Members {
		for _, b := range group.Members[i+1:] {
			if linked[[2]string{a.ID, b.ID}] {
				continue
			}
			from, to := a.ID, b.ID
			if to < from {
				from, to = to, from
			}
			g.upsertEdge(models.GraphEdge{From: from, To: to, Type: models.EdgeCoOccurs})
		}
	}

	for _, ev := range group.Members {
		g.upsertEdge(models.GraphEdge{From: corr.ID, To: ev.ID, Type: models.EdgeRelatedTo})
	}
}

// applyAnomaly upserts the anomaly correlation node, the flagged events'
// nodes, trigger edges, and the root cause chain when present.
func (g *Graph) applyAnomaly(corr *models.AnomalyCorrelation) {
	g.upsertNode(models.GraphNode{
		ID:        corr.ID,
		Kind:      models.NodeCorrelation,
		Type:      string(models.TypeAnomaly),
		Timestamp: corr.DetectedAt,
	})

	for _, an := range corr.Anomalies {
		ref := an.Event
		g.upsertNode(models.GraphNode{
			ID:        ref.EventID,
			Kind:      models.NodeEvent,
			Source:    ref.Source,
			Type:      ref.Type,
			Severity:  ref.Severity,
			Timestamp: ref.Timestamp,
		})
		g.upsertEdge(models.GraphEdge{From: corr.ID, To: ref.EventID, Type: models.EdgeTriggeredBy})
	}

	if corr.RootCause != nil {
		for _, link := range corr.RootCause.CausalChain {
			g.upsertEdge(models.GraphEdge{From: link.CauseEventID, To: link.EffectEventID, Type: models.EdgeCauses})
		}
	}
}

// upsertNode inserts a node if its identifier is new. Events are immutable,
// so the first write wins.
func (g *Graph) upsertNode(n models.GraphNode) {
	if _, exists := g.nodes[n.ID]; exists {
		return
	}
	g.nodes[n.ID] = n
	g.stats.Nodes++
	metrics.GraphNodes.Set(float64(g.stats.Nodes))
	g.recomputeDensity()
}

// upsertEdge inserts an edge unless the same typed ordered pair exists.
func (g *Graph) upsertEdge(e models.GraphEdge) {
	key := edgeKey{from: e.From, to: e.To, typ: e.Type}
	if _, exists := g.edges[key]; exists {
		return
	}
	g.edges[key] = e
	g.out[e.From] = append(g.out[e.From], e)
	g.in[e.To] = append(g.in[e.To], e)
	g.stats.Edges++
	metrics.GraphEdges.Set(float64(g.stats.Edges))
	g.recomputeDensity()
}

func (g *Graph) recomputeDensity() {
	if g.stats.Nodes > 1 {
		g.stats.Density = float64(g.stats.Edges) / float64(g.stats.Nodes*(g.stats.Nodes-1))
	} else {
		g.stats.Density = 0
	}
}

func (g *Graph) neighborhood(id string) nodeReply {
	node, ok := g.nodes[id]
	if !ok {
		return nodeReply{}
	}
	hood := models.GraphNeighborhood{
		Node:     node,
		Incoming: sortedEdges(g.in[id]),
		Outgoing: sortedEdges(g.out[id]),
	}
	return nodeReply{hood: hood, ok: true}
}

func (g *Graph) nodesBetween(from, to time.Time) []models.GraphNode {
	var nodes []models.GraphNode
	for _, n := range g.nodes {
		if n.Timestamp.Before(from) || n.Timestamp.After(to) {
			continue
		}
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if !nodes[i].Timestamp.Equal(nodes[j].Timestamp) {
			return nodes[i].Timestamp.Before(nodes[j].Timestamp)
		}
		return nodes[i].ID < nodes[j].ID
	})
	return nodes
}

func sortedEdges(edges []models.GraphEdge) []models.GraphEdge {
	out := make([]models.GraphEdge, len(edges))
	copy(out, edges)
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		if out[i].To != out[j].To {
			return out[i].To < out[j].To
		}
		return out[i].Type < out[j].Type
	})
	return out
}
