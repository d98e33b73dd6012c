// Package graphdb writes the river network to Neo4j. Nodes are RiverNode
// vertices and edges are FLOWS_ALONG relationships, both merged on
// {graph, id} so repeated runs converge on the same graph.
package graphdb

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/osmriver/internal/logger"
	"github.com/wegman-software/osmriver/internal/network"
	"github.com/wegman-software/osmriver/internal/sink"
)

// SinkName identifies this sink in reports and logs
const SinkName = "neo4j"

const (
	nodeIndexCypher = `CREATE INDEX river_node_graph_id IF NOT EXISTS FOR (n:RiverNode) ON (n.graph, n.id)`
	relIndexCypher  = `CREATE INDEX flows_along_graph_id IF NOT EXISTS FOR ()-[r:FLOWS_ALONG]-() ON (r.graph, r.id)`

	upsertNodesCypher = `UNWIND $rows AS row
MERGE (n:RiverNode {graph: $graph, id: row.id})
SET n.lat = row.lat, n.lon = row.lon, n.region = $region
RETURN count(n) AS count`

	upsertRelsCypher = `UNWIND $rows AS row
MATCH (a:RiverNode {graph: $graph, id: row.start})
MATCH (b:RiverNode {graph: $graph, id: row.end})
MERGE (a)-[r:FLOWS_ALONG {graph: $graph, id: row.id}]->(b)
SET r.name = row.name, r.alt_names = row.alt_names, r.region = $region,
    r.waterway = row.waterway, r.source_ways = row.source_ways, r.length_m = row.length_m
RETURN count(r) AS count`

	pruneRelsCypher = `MATCH ()-[r:FLOWS_ALONG]->()
WHERE r.graph = $graph AND r.region = $region AND NOT r.id IN $ids
WITH r DELETE r
RETURN count(*) AS count`

	pruneNodesCypher = `MATCH (n:RiverNode)
WHERE n.graph = $graph AND n.region = $region AND NOT n.id IN $ids
  AND NOT (n)-[:FLOWS_ALONG]-()
WITH n DELETE n
RETURN count(*) AS count`
)

// Options configures a Writer
type Options struct {
	Graph     string
	BatchSize int
	Prune     bool
	SkipIndex bool
}

// Writer upserts a network into a graph store
type Writer struct {
	runner Runner
	opts   Options
}

// New creates a writer
func New(runner Runner, opts Options) (*Writer, error) {
	if opts.Graph == "" {
		return nil, fmt.Errorf("graph name is required")
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 500
	}
	return &Writer{runner: runner, opts: opts}, nil
}

// Name implements sink.Consumer
func (w *Writer) Name() string { return SinkName }

// Target implements sink.Consumer
func (w *Writer) Target() string { return SinkName + ":" + w.opts.Graph }

// EnsureIndexes creates the lookup indexes MERGE relies on. Failures are
// logged only since some editions restrict schema changes.
func (w *Writer) EnsureIndexes(ctx context.Context) {
	for _, stmt := range []string{nodeIndexCypher, relIndexCypher} {
		if err := w.runner.Exec(ctx, stmt); err != nil {
			logger.Named(SinkName).Warn("Failed to create index", zap.Error(err))
		}
	}
}

// Consume implements sink.Consumer. All node upserts complete before the
// first relationship upsert is sent.
func (w *Writer) Consume(ctx context.Context, net *network.Network) (*sink.WriteReport, error) {
	log := logger.Named(SinkName)
	start := time.Now()
	report := &sink.WriteReport{Sink: SinkName}

	if !w.opts.SkipIndex {
		w.EnsureIndexes(ctx)
	}

	batch := sink.GraphMutations(net)

	err := sink.UpsertChunked(ctx, report, batch.Nodes, w.opts.BatchSize,
		func(n sink.NodeUpsert) string { return "node " + n.ID },
		func(ctx context.Context, chunk []sink.NodeUpsert) error {
			return w.write(ctx, upsertNodesCypher, batch.Region, nodeRows(chunk))
		})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert nodes: %w", err)
	}
	nodesWritten := report.Written

	err = sink.UpsertChunked(ctx, report, batch.Relationships, w.opts.BatchSize,
		func(r sink.RelationshipUpsert) string { return "relationship " + r.ID },
		func(ctx context.Context, chunk []sink.RelationshipUpsert) error {
			return w.write(ctx, upsertRelsCypher, batch.Region, relRows(chunk))
		})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert relationships: %w", err)
	}

	if w.opts.Prune {
		pruned, err := w.prune(ctx, net)
		if err != nil {
			return nil, err
		}
		report.Pruned = pruned
	}

	report.Duration = time.Since(start)
	log.Info("Graph write complete",
		append(report.LogFields(),
			zap.Int("nodes", nodesWritten),
			zap.Int("relationships", report.Written-nodesWritten))...)
	return report, nil
}

// write applies rows and fails the transaction unless every row was merged
func (w *Writer) write(ctx context.Context, cypher, region string, rows []map[string]any) error {
	params := map[string]any{"graph": w.opts.Graph, "region": region, "rows": rows}
	_, err := w.runner.Write(ctx, cypher, params, func(count int64) error {
		if count != int64(len(rows)) {
			return fmt.Errorf("merged %d of %d rows, missing endpoint nodes", count, len(rows))
		}
		return nil
	})
	return err
}

// prune deletes relationships of the region missing from net, then nodes of
// the region that are missing from net and no longer carry any relationship.
// A border node shared with another region survives as long as that region
// still uses it.
func (w *Writer) prune(ctx context.Context, net *network.Network) (int, error) {
	rels, err := w.runner.Write(ctx, pruneRelsCypher,
		map[string]any{"graph": w.opts.Graph, "region": net.Region, "ids": net.EdgeIDs()}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to prune relationships: %w", err)
	}

	nodes, err := w.runner.Write(ctx, pruneNodesCypher,
		map[string]any{"graph": w.opts.Graph, "region": net.Region, "ids": net.NodeIDs()}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to prune nodes: %w", err)
	}

	if rels+nodes > 0 {
		logger.Named(SinkName).Info("Pruned stale graph entities",
			zap.String("region", net.Region),
			zap.Int64("relationships", rels),
			zap.Int64("nodes", nodes))
	}
	return int(rels + nodes), nil
}

func nodeRows(nodes []sink.NodeUpsert) []map[string]any {
	rows := make([]map[string]any, len(nodes))
	for i, n := range nodes {
		rows[i] = map[string]any{"id": n.ID, "lat": n.Lat, "lon": n.Lon}
	}
	return rows
}

func relRows(rels []sink.RelationshipUpsert) []map[string]any {
	rows := make([]map[string]any, len(rels))
	for i, r := range rels {
		var name any
		if r.Name != nil {
			name = *r.Name
		}
		altNames := r.AltNames
		if altNames == nil {
			altNames = []string{}
		}
		rows[i] = map[string]any{
			"id":          r.ID,
			"start":       r.Start,
			"end":         r.End,
			"name":        name,
			"alt_names":   altNames,
			"waterway":    r.Waterway,
			"source_ways": r.SourceWays,
			"length_m":    r.LengthM,
		}
	}
	return rows
}
