// Package conflict runs read-only invariant checks over the graph: file
// contention between agents, overlapping features, circular dependencies,
// and stale work-in-progress. Detection never mutates the graph.
package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/planwell/plangraph/internal/resolver"
	"github.com/planwell/plangraph/internal/storage"
)

// Severity of a conflict report.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Conflict types.
const (
	TypeFileContention     = "file_contention"
	TypeFeatureOverlap     = "feature_overlap"
	TypeCircularDependency = "circular_dependency"
	TypeStaleWip           = "stale_wip"
)

// Report is one detected conflict.
type Report struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Entities   []string  `json:"entities"`
	DetectedAt time.Time `json:"detectedAt"`
}

func newReport(conflictType string, severity Severity, message string, entities []string) Report {
	return Report{
		ID:         uuid.New().String(),
		Type:       conflictType,
		Severity:   severity,
		Message:    message,
		Entities:   entities,
		DetectedAt: time.Now().UTC(),
	}
}

// Detector runs the conflict checks.
type Detector struct {
	store       *storage.Store
	resolver    *resolver.Resolver
	staleWipAge time.Duration
	logger      *slog.Logger
}

// New creates a Detector. staleWipAge is the threshold for DetectStaleWip.
func New(store *storage.Store, res *resolver.Resolver, staleWipAge time.Duration, logger *slog.Logger) *Detector {
	return &Detector{
		store:       store,
		resolver:    res,
		staleWipAge: staleWipAge,
		logger:      logger,
	}
}

// DetectAll runs every check and returns the union of reports in check
// order: contention, overlap, cycles, staleness.
func (d *Detector) DetectAll(ctx context.Context) ([]Report, error) {
	var all []Report

	checks := []func(context.Context) ([]Report, error){
		d.DetectFileContention,
		d.DetectFeatureOverlap,
		d.DetectCircularDependencies,
		d.DetectStaleWip,
	}
	for _, check := range checks {
		reports, err := check(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, reports...)
	}

	d.logger.Info("Conflict detection complete", "reports", len(all))
	return all, nil
}

// DetectFileContention flags every file MODIFIES-linked from two or more
// active agents, unless the file is marked shared in its metadata. Agents
// whose status is PASS no longer contend.
func (d *Detector) DetectFileContention(ctx context.Context) ([]Report, error) {
	agents, err := d.store.GetEntitiesByType(storage.EntityAgent)
	if err != nil {
		return nil, err
	}

	// file entity id -> agents touching it
	touched := make(map[int64][]*storage.Entity)
	files := make(map[int64]*storage.Entity)

	for _, agent := range agents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.EqualFold(agent.MetaString("status"), "PASS") {
			continue
		}
		neighbors, err := d.store.GetNeighbors(agent.ID, storage.RelationModifies)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if n.Type != storage.EntityFile {
				continue
			}
			touched[n.ID] = append(touched[n.ID], agent)
			files[n.ID] = n
		}
	}

	fileIDs := make([]int64, 0, len(touched))
	for id := range touched {
		fileIDs = append(fileIDs, id)
	}
	sort.Slice(fileIDs, func(i, j int) bool { return fileIDs[i] < fileIDs[j] })

	var reports []Report
	for _, id := range fileIDs {
		agents := touched[id]
		file := files[id]
		if len(agents) < 2 || file.MetaBool("shared") {
			continue
		}
		names := make([]string, len(agents))
		entities := make([]string, 0, len(agents)+1)
		entities = append(entities, file.CanonicalID)
		for i, a := range agents {
			names[i] = a.Name
			entities = append(entities, a.CanonicalID)
		}
		reports = append(reports, newReport(TypeFileContention, SeverityError,
			fmt.Sprintf("File %s is modified by %d active agents: %s",
				file.CanonicalID, len(agents), strings.Join(names, ", ")),
			entities))
	}
	return reports, nil
}

// DetectFeatureOverlap scores feature pairs through the resolver and
// reports each flagged pair as a warning. Detection only reads the graph;
// SIMILAR_TO edges are left to explicit resolution passes.
func (d *Detector) DetectFeatureOverlap(ctx context.Context) ([]Report, error) {
	result, err := d.resolver.ScoreType(ctx, storage.EntityFeature)
	if err != nil {
		return nil, err
	}

	var reports []Report
	for _, pair := range append(result.Duplicates, result.Similar...) {
		reports = append(reports, newReport(TypeFeatureOverlap, SeverityWarning,
			fmt.Sprintf("Features %q and %q overlap (similarity %.2f)",
				pair.A.Name, pair.B.Name, pair.Score.Combined),
			[]string{pair.A.CanonicalID, pair.B.CanonicalID}))
	}
	return reports, nil
}

// DetectCircularDependencies finds cycles in the DEPENDS_ON edges among
// agents with a three-color DFS, correct across disconnected components.
// Each distinct cycle is reported once, as an error.
func (d *Detector) DetectCircularDependencies(ctx context.Context) ([]Report, error) {
	agents, err := d.store.GetEntitiesByType(storage.EntityAgent)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*storage.Entity, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}

	adj := make(map[int64][]int64, len(agents))
	for _, a := range agents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rels, err := d.store.GetRelationships(a.ID, storage.DirOutgoing)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			if rel.Type != storage.RelationDependsOn {
				continue
			}
			if _, ok := byID[rel.TargetID]; !ok {
				continue
			}
			adj[a.ID] = append(adj[a.ID], rel.TargetID)
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int64]int, len(agents))
	var stack []int64
	var cycles [][]int64
	seen := make(map[string]bool)

	var visit func(id int64)
	visit = func(id int64) {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range adj[id] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				// Back edge: the cycle is the stack suffix from next.
				var cycle []int64
				for i := len(stack) - 1; i >= 0; i-- {
					cycle = append([]int64{stack[i]}, cycle...)
					if stack[i] == next {
						break
					}
				}
				if key := cycleKey(cycle); !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, a := range agents {
		if color[a.ID] == white {
			visit(a.ID)
		}
	}

	var reports []Report
	for _, cycle := range cycles {
		names := make([]string, len(cycle))
		entities := make([]string, len(cycle))
		for i, id := range cycle {
			names[i] = byID[id].Name
			entities[i] = byID[id].CanonicalID
		}
		reports = append(reports, newReport(TypeCircularDependency, SeverityError,
			fmt.Sprintf("Circular dependency among agents: %s", strings.Join(names, " -> ")),
			entities))
	}
	return reports, nil
}

// cycleKey canonicalizes a cycle by rotating its smallest member first, so
// the same cycle discovered from different entry points dedupes.
func cycleKey(cycle []int64) string {
	if len(cycle) == 0 {
		return ""
	}
	minIdx := 0
	for i, id := range cycle {
		if id < cycle[minIdx] {
			minIdx = i
		}
	}
	var b strings.Builder
	for i := range cycle {
		fmt.Fprintf(&b, "%d,", cycle[(minIdx+i)%len(cycle)])
	}
	return b.String()
}

// DetectStaleWip reports agents whose status is WIP but whose entity has
// not been updated within the configured age, as warnings.
func (d *Detector) DetectStaleWip(ctx context.Context) ([]Report, error) {
	agents, err := d.store.GetEntitiesByType(storage.EntityAgent)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-d.staleWipAge)
	var reports []Report
	for _, agent := range agents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !strings.EqualFold(agent.MetaString("status"), "WIP") {
			continue
		}
		if agent.UpdatedAt.After(cutoff) {
			continue
		}
		reports = append(reports, newReport(TypeStaleWip, SeverityWarning,
			fmt.Sprintf("Agent %q has been WIP without updates since %s",
				agent.Name, agent.UpdatedAt.Format(time.RFC3339)),
			[]string{agent.CanonicalID}))
	}
	return reports, nil
}
