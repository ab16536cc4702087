// Package extract turns a plan directory of markdown documents into graph
// entities and edges. Edges are keyed by canonical id, since the extractor
// runs before anything is committed and internal ids do not exist yet.
package extract

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/planwell/plangraph/internal/storage"
)

// Ref names an entity by its unique (type, canonical id) key.
type Ref struct {
	Type        storage.EntityType
	CanonicalID string
}

// Edge is a relationship between two not-yet-committed entities.
type Edge struct {
	Source Ref
	Target Ref
	Type   storage.RelationType
}

// Result is everything extracted from one plan directory.
type Result struct {
	Entities []*storage.Entity
	Edges    []Edge
}

// Extractor parses plan directories.
type Extractor struct {
	logger *slog.Logger
}

// New creates an Extractor.
func New(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// planDirPattern matches the plan folder naming convention: a numeric
// prefix followed by a slug, e.g. "0042-auth-rework".
var planDirPattern = regexp.MustCompile(`^\d{3,}-[a-z0-9][a-z0-9-]*$`)

// IsPlanDir reports whether the directory base name follows the plan
// folder naming convention.
func IsPlanDir(name string) bool {
	return planDirPattern.MatchString(name)
}

// ResolvePlanDir walks upward from path looking for the nearest ancestor
// directory that follows the plan naming convention, stopping at root.
// Returns "" if no ancestor qualifies.
func ResolvePlanDir(path, root string) string {
	dir := path
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		dir = filepath.Dir(path)
	}
	root = filepath.Clean(root)
	for {
		dir = filepath.Clean(dir)
		if IsPlanDir(filepath.Base(dir)) {
			return dir
		}
		if dir == root || dir == "/" || dir == "." {
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// planFrontmatter is the YAML header of a plan.md document.
type planFrontmatter struct {
	Title   string   `yaml:"title"`
	Status  string   `yaml:"status"`
	Tags    []string `yaml:"tags"`
	Depends []string `yaml:"depends"`
}

// agentFrontmatter is the YAML header of an agent document.
type agentFrontmatter struct {
	Agent      string   `yaml:"agent"`
	Title      string   `yaml:"title"`
	Status     string   `yaml:"status"`
	Modifies   []string `yaml:"modifies"`
	Implements []string `yaml:"implements"`
	Depends    []string `yaml:"depends"`
}

// ExtractPlan reads one plan directory and produces its entities and edges.
//
// Conventions: `plan.md` carries the plan frontmatter (title, status, tags,
// depends on other plans) and an optional `## Features` section whose list
// items become feature entities. Any other `*.md` file with an `agent:`
// frontmatter key becomes an agent entity with MODIFIES / IMPLEMENTS /
// DEPENDS_ON edges taken from its frontmatter. Unparseable documents are
// skipped, not fatal.
func (e *Extractor) ExtractPlan(dir string) (*Result, error) {
	base := filepath.Base(dir)
	if !IsPlanDir(base) {
		return nil, fmt.Errorf("%s does not follow the plan directory naming convention", dir)
	}

	result := &Result{}
	planRef := Ref{Type: storage.EntityPlan, CanonicalID: base}

	planPath := filepath.Join(dir, "plan.md")
	content, err := os.ReadFile(planPath)
	if err != nil {
		return nil, fmt.Errorf("plan directory %s has no readable plan.md: %w", dir, err)
	}
	e.extractPlanDoc(planPath, base, content, planRef, result)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == "plan.md" || !strings.HasSuffix(name, ".md") {
			continue
		}
		path := filepath.Join(dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			e.logger.Warn("Skipping unreadable document", "path", path, "error", err)
			continue
		}
		e.extractAgentDoc(path, content, planRef, result)
	}

	return result, nil
}

func (e *Extractor) extractPlanDoc(path, planID string, content []byte, planRef Ref, result *Result) {
	var fm planFrontmatter
	body := splitFrontmatter(content, &fm, e, path)

	name := fm.Title
	if name == "" {
		name = firstHeading(body)
	}
	if name == "" {
		name = planID
	}

	meta := map[string]interface{}{}
	if fm.Status != "" {
		meta["status"] = fm.Status
	}

	result.Entities = append(result.Entities, &storage.Entity{
		Type:        storage.EntityPlan,
		CanonicalID: planID,
		Name:        name,
		SourcePath:  path,
		ContentHash: storage.ComputeContentHash(content),
		Metadata:    meta,
	})

	for _, tag := range dedupe(fm.Tags) {
		tagRef := Ref{Type: storage.EntityTag, CanonicalID: strings.ToLower(tag)}
		result.Entities = append(result.Entities, &storage.Entity{
			Type:        storage.EntityTag,
			CanonicalID: tagRef.CanonicalID,
			Name:        tag,
		})
		result.Edges = append(result.Edges, Edge{Source: planRef, Target: tagRef, Type: storage.RelationTaggedWith})
	}

	for _, dep := range dedupe(fm.Depends) {
		result.Edges = append(result.Edges, Edge{
			Source: planRef,
			Target: Ref{Type: storage.EntityPlan, CanonicalID: dep},
			Type:   storage.RelationDependsOn,
		})
	}

	for _, feature := range featureItems(body) {
		featRef := Ref{Type: storage.EntityFeature, CanonicalID: planID + "/" + slugify(feature)}
		result.Entities = append(result.Entities, &storage.Entity{
			Type:        storage.EntityFeature,
			CanonicalID: featRef.CanonicalID,
			Name:        feature,
			SourcePath:  path,
		})
		result.Edges = append(result.Edges, Edge{Source: planRef, Target: featRef, Type: storage.RelationContains})
	}
}

func (e *Extractor) extractAgentDoc(path string, content []byte, planRef Ref, result *Result) {
	var fm agentFrontmatter
	body := splitFrontmatter(content, &fm, e, path)

	if fm.Agent == "" {
		// Not an agent document; ignore.
		return
	}

	name := fm.Title
	if name == "" {
		name = firstHeading(body)
	}
	if name == "" {
		name = fm.Agent
	}

	meta := map[string]interface{}{}
	if fm.Status != "" {
		meta["status"] = fm.Status
	}

	agentRef := Ref{Type: storage.EntityAgent, CanonicalID: fm.Agent}
	result.Entities = append(result.Entities, &storage.Entity{
		Type:        storage.EntityAgent,
		CanonicalID: fm.Agent,
		Name:        name,
		SourcePath:  path,
		ContentHash: storage.ComputeContentHash(content),
		Metadata:    meta,
	})
	result.Edges = append(result.Edges, Edge{Source: planRef, Target: agentRef, Type: storage.RelationContains})

	for _, file := range dedupe(fm.Modifies) {
		fileRef := Ref{Type: storage.EntityFile, CanonicalID: file}
		result.Entities = append(result.Entities, &storage.Entity{
			Type:        storage.EntityFile,
			CanonicalID: file,
			Name:        filepath.Base(file),
		})
		result.Edges = append(result.Edges, Edge{Source: agentRef, Target: fileRef, Type: storage.RelationModifies})
	}
	for _, feat := range dedupe(fm.Implements) {
		result.Edges = append(result.Edges, Edge{
			Source: agentRef,
			Target: Ref{Type: storage.EntityFeature, CanonicalID: feat},
			Type:   storage.RelationImplements,
		})
	}
	for _, dep := range dedupe(fm.Depends) {
		result.Edges = append(result.Edges, Edge{
			Source: agentRef,
			Target: Ref{Type: storage.EntityAgent, CanonicalID: dep},
			Type:   storage.RelationDependsOn,
		})
	}
}

var frontmatterDelim = []byte("---")

// splitFrontmatter parses a leading YAML frontmatter block into out and
// returns the remaining body. Malformed frontmatter is logged and treated
// as absent.
func splitFrontmatter(content []byte, out interface{}, e *Extractor, path string) []byte {
	trimmed := bytes.TrimLeft(content, "\n\r")
	if !bytes.HasPrefix(trimmed, frontmatterDelim) {
		return content
	}
	rest := trimmed[len(frontmatterDelim):]
	end := bytes.Index(rest, append([]byte("\n"), frontmatterDelim...))
	if end < 0 {
		return content
	}
	header := rest[:end]
	body := rest[end+1+len(frontmatterDelim):]

	if err := yaml.Unmarshal(header, out); err != nil {
		e.logger.Warn("Malformed frontmatter, treating as absent", "path", path, "error", err)
		return content
	}
	return body
}

// firstHeading returns the text of the first markdown H1/H2 in body.
func firstHeading(body []byte) string {
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "# "))
		}
	}
	return ""
}

// featureItems returns the list items under a "## Features" heading.
func featureItems(body []byte) []string {
	var items []string
	inSection := false
	for _, line := range strings.Split(string(body), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "##"):
			heading := strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
			inSection = strings.EqualFold(heading, "features")
		case inSection && (strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ")):
			item := strings.TrimSpace(trimmed[2:])
			if item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}

func slugify(text string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
