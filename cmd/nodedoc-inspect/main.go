// Command nodedoc-inspect is an operator debugging tool: it loads a
// node document from its serialized wire form and reports, for a
// given read-point, whether the node exists and what property values
// it has (§1's two core questions). It is a read-only diagnostic, not
// a product surface: no configuration layer, no daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/nodestore/pkg/commitvalue"
	"storj.io/nodestore/pkg/nodestore"
	"storj.io/nodestore/pkg/revision"
)

var rootCmd = &cobra.Command{
	Use:   "nodedoc-inspect",
	Short: "Inspect a serialized node document at a given read-point",
	RunE:  run,
}

var (
	docPath    string
	prevDir    string
	revFlags   []string
	baseFlags  []string
	localWriter int
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&docPath, "doc", "", "path to the main document's serialized wire form (required)")
	flags.StringVar(&prevDir, "prev-dir", "", "directory holding sibling previous-document files, named by escaped id")
	flags.StringSliceVar(&revFlags, "rev", nil, "a revision in the read-point vector (repeatable, required)")
	flags.StringSliceVar(&baseFlags, "branch-base", nil, "a revision in the branch read's base vector; presence makes --rev a branch read")
	flags.IntVar(&localWriter, "writer", 0, "local writer id, for unmerged-branch visibility checks")
	_ = rootCmd.MarkFlagRequired("doc")
	_ = rootCmd.MarkFlagRequired("rev")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log, err := zap.NewDevelopment()
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() { _ = log.Sync() }()

	raw, err := os.ReadFile(docPath)
	if err != nil {
		return errs.Wrap(err)
	}
	doc, err := nodestore.FromString(string(raw))
	if err != nil {
		return errs.Wrap(err)
	}

	R, err := buildReadPoint(revFlags, baseFlags)
	if err != nil {
		return err
	}

	loader := &fileLoader{dir: prevDir}

	result, err := inspect(ctx, doc, R, localWriter, loader, log)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errs.Wrap(err)
	}
	fmt.Println(string(out))
	return nil
}

// inspectResult is the JSON report nodedoc-inspect prints.
type inspectResult struct {
	ID         string            `json:"id"`
	Exists     bool              `json:"exists"`
	Properties map[string]string `json:"properties,omitempty"`
}

func inspect(
	ctx context.Context,
	doc *nodestore.Document,
	R *revision.Vector,
	writerID int,
	loader nodestore.PreviousLoader,
	log *zap.Logger,
) (inspectResult, error) {
	var vis nodestore.VisibilityEngine
	validCache := map[revision.Revision]commitvalue.Value{}
	getCV := func(ctx context.Context, r revision.Revision) (commitvalue.Value, error) {
		return lookupCommitValue(ctx, r, doc, loader)
	}

	deletedVM := nodestore.NewValueMap(doc, nodestore.KeyDeleted, loader, log)
	deletedEntry, found, err := vis.LatestValue(ctx, deletedVM, R, writerID, getCV, validCache)
	if err != nil {
		return inspectResult{}, err
	}
	if found && deletedEntry.Value == "true" {
		return inspectResult{ID: doc.ID(), Exists: false}, nil
	}

	props := map[string]string{}
	for _, key := range doc.PropertyKeys() {
		vm := nodestore.NewValueMap(doc, key, loader, log)
		entry, found, err := vis.LatestValue(ctx, vm, R, writerID, getCV, validCache)
		if err != nil {
			return inspectResult{}, err
		}
		if !found || entry.Value == "" {
			continue
		}
		props[nodestore.UnescapeProperty(key)] = entry.Value
	}

	return inspectResult{ID: doc.ID(), Exists: true, Properties: props}, nil
}

// lookupCommitValue stands in for the RevisionContext.getCommitValue
// collaborator (§6.3): it resolves r's commit value from the
// document's own _revisions map, falling back to previous documents'
// _revisions maps. This tool has no cluster-wide commit log to
// consult, so a revision committed on some other node's document
// (rather than self-committed here) reports Unknown.
func lookupCommitValue(ctx context.Context, r revision.Revision, doc *nodestore.Document, loader nodestore.PreviousLoader) (commitvalue.Value, error) {
	if v, ok := doc.RevMap(nodestore.KeyRevisions).Get(r); ok {
		return commitvalue.Parse(v)
	}
	for _, rg := range doc.PreviousIndex().Values() {
		id := nodestore.PreviousID(doc.Path(), rg.High, rg.Height)
		prev, err := loader.LoadPrevious(ctx, id)
		if err != nil {
			return commitvalue.Value{}, err
		}
		if prev == nil {
			continue
		}
		if v, ok := prev.RevMap(nodestore.KeyRevisions).Get(r); ok {
			return commitvalue.Parse(v)
		}
	}
	return commitvalue.Value{Kind: commitvalue.Unknown}, nil
}

func buildReadPoint(revs, base []string) (*revision.Vector, error) {
	if len(revs) == 0 {
		return nil, errs.New("at least one --rev is required")
	}
	v, err := parseVector(revs)
	if err != nil {
		return nil, err
	}
	if len(base) == 0 {
		return v, nil
	}
	b, err := parseVector(base)
	if err != nil {
		return nil, err
	}
	return revision.Branch(v, b), nil
}

func parseVector(revs []string) (*revision.Vector, error) {
	v := revision.NewVector()
	for _, s := range revs {
		r, err := revision.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		v.Update(r)
	}
	return v, nil
}

// fileLoader implements nodestore.PreviousLoader by reading sibling
// previous-document files out of a directory, one file per previous
// document id with '/' replaced by '_' and ':' by '.' so the id is a valid
// filename on any filesystem.
type fileLoader struct {
	dir string
}

func (f *fileLoader) LoadPrevious(ctx context.Context, id string) (*nodestore.Document, error) {
	if f.dir == "" {
		return nil, nil
	}
	path := filepath.Join(f.dir, escapeFilename(id))
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(err)
	}
	return nodestore.FromString(string(raw))
}

func escapeFilename(id string) string {
	r := strings.NewReplacer("/", "_", ":", ".")
	return r.Replace(id)
}
