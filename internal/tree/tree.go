// Package tree analyzes a dialogue's message tree and materializes its
// derived structures: DialogueTree, MessagePath, and one LinearSequence per
// leaf, grounded on original_source/llm_archive/builders/trees.py. Works
// uniformly across both source shapes: a linear (Claude) dialogue produces
// a degenerate tree with branch_count 0 and exactly one leaf.
package tree

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dmarx/chat2obs-sub000/internal/errs"
	"github.com/dmarx/chat2obs-sub000/internal/model"
	"github.com/dmarx/chat2obs-sub000/internal/store"
)

// node is the in-memory tree representation of one message.
type node struct {
	messageID string
	parentID  *string
	role      model.Role
	createdAt *time.Time
	children  []*node
}

func (n *node) isLeaf() bool { return len(n.children) == 0 }

func (n *node) timestamp() int64 {
	if n.createdAt == nil {
		return 0
	}
	return n.createdAt.UnixNano()
}

// analysis is the result of analyzing one dialogue's tree.
type analysis struct {
	totalNodes       int
	maxDepth         int
	branchCount      int
	leafCount        int
	primaryLeaf      *node
	primaryPathIDs   map[string]bool
	hasRegenerations bool
	hasEdits         bool
	nodes            map[string]*node
	leaves           []*node
}

// Builder materializes tree analysis into the store.
type Builder struct {
	store store.Storer
}

func NewBuilder(s store.Storer) *Builder {
	return &Builder{store: s}
}

// BuildForDialogue clears and rebuilds the derived tree structures for one
// dialogue. Returns the number of sequences materialized (one per leaf).
func (b *Builder) BuildForDialogue(dialogueID string) (int, error) {
	if err := b.store.ClearDialogueDerived(dialogueID); err != nil {
		return 0, errs.StoreUnavailable("clear dialogue derived", err)
	}

	messages, err := b.store.ListMessagesForDialogue(dialogueID)
	if err != nil {
		return 0, errs.StoreUnavailable("list messages for dialogue", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	a := analyzeTree(messages)

	if err := b.persistDialogueTree(dialogueID, a); err != nil {
		return 0, err
	}
	if err := b.persistMessagePaths(dialogueID, a); err != nil {
		return 0, err
	}
	return b.persistLinearSequences(dialogueID, a)
}

func analyzeTree(messages []*model.Message) *analysis {
	nodes, roots := buildTree(messages)
	if len(roots) == 0 {
		return &analysis{nodes: map[string]*node{}, primaryPathIDs: map[string]bool{}}
	}

	root := roots[0]
	depths := computeDepths(root)
	maxDepth := 0
	for _, d := range depths {
		if d > maxDepth {
			maxDepth = d
		}
	}

	var leaves []*node
	branchCount := 0
	for _, n := range nodes {
		if n.isLeaf() {
			leaves = append(leaves, n)
		}
		if len(n.children) > 1 {
			branchCount++
		}
	}

	primaryLeaf := selectPrimaryLeaf(leaves, nodes)
	primaryPathIDs := map[string]bool{}
	if primaryLeaf != nil {
		for _, id := range ancestorIDs(primaryLeaf, nodes) {
			primaryPathIDs[id] = true
		}
		primaryPathIDs[primaryLeaf.messageID] = true
	}

	hasRegenerations, hasEdits := classifyBranches(nodes)

	return &analysis{
		totalNodes:       len(nodes),
		maxDepth:         maxDepth,
		branchCount:      branchCount,
		leafCount:        len(leaves),
		primaryLeaf:      primaryLeaf,
		primaryPathIDs:   primaryPathIDs,
		hasRegenerations: hasRegenerations,
		hasEdits:         hasEdits,
		nodes:            nodes,
		leaves:           leaves,
	}
}

func buildTree(messages []*model.Message) (map[string]*node, []*node) {
	nodes := make(map[string]*node, len(messages))
	childrenByParent := map[string][]*node{}
	const rootKey = ""

	for _, m := range messages {
		n := &node{messageID: m.ID, parentID: m.ParentID, role: m.Role, createdAt: m.CreatedAt}
		nodes[m.ID] = n
		key := rootKey
		if m.ParentID != nil {
			key = *m.ParentID
		}
		childrenByParent[key] = append(childrenByParent[key], n)
	}

	for _, n := range nodes {
		children := childrenByParent[n.messageID]
		sort.SliceStable(children, func(i, j int) bool { return children[i].timestamp() < children[j].timestamp() })
		n.children = children
	}

	roots := childrenByParent[rootKey]
	sort.SliceStable(roots, func(i, j int) bool { return roots[i].timestamp() < roots[j].timestamp() })

	return nodes, roots
}

func computeDepths(root *node) map[string]int {
	depths := map[string]int{}
	var traverse func(n *node, depth int)
	traverse = func(n *node, depth int) {
		depths[n.messageID] = depth
		for _, c := range n.children {
			traverse(c, depth+1)
		}
	}
	traverse(root, 0)
	return depths
}

// selectPrimaryLeaf picks the leaf with the lexicographic-max
// (path_length, timestamp), i.e. deepest path, ties broken by most recent.
func selectPrimaryLeaf(leaves []*node, nodes map[string]*node) *node {
	if len(leaves) == 0 {
		return nil
	}
	best := leaves[0]
	bestLen := len(ancestorIDs(best, nodes)) + 1
	for _, l := range leaves[1:] {
		length := len(ancestorIDs(l, nodes)) + 1
		if length > bestLen || (length == bestLen && l.timestamp() > best.timestamp()) {
			best = l
			bestLen = length
		}
	}
	return best
}

// ancestorIDs returns ancestor message ids from root to parent, excluding n.
func ancestorIDs(n *node, nodes map[string]*node) []string {
	var ancestors []string
	current := n
	for current.parentID != nil {
		ancestors = append(ancestors, *current.parentID)
		next, ok := nodes[*current.parentID]
		if !ok {
			break
		}
		current = next
	}
	// reverse
	for i, j := 0, len(ancestors)-1; i < j; i, j = i+1, j-1 {
		ancestors[i], ancestors[j] = ancestors[j], ancestors[i]
	}
	return ancestors
}

func classifyBranches(nodes map[string]*node) (hasRegenerations, hasEdits bool) {
	for _, n := range nodes {
		if len(n.children) <= 1 {
			continue
		}
		roles := map[model.Role]bool{}
		for _, c := range n.children {
			roles[c.role] = true
		}
		if len(roles) == 1 {
			hasRegenerations = true
		} else {
			hasEdits = true
		}
	}
	return
}

func computeSiblingIndices(nodes map[string]*node) map[string]int {
	indices := map[string]int{}
	for _, n := range nodes {
		for idx, c := range n.children {
			indices[c.messageID] = idx
		}
	}
	for _, n := range nodes {
		if n.parentID == nil {
			indices[n.messageID] = 0
		}
	}
	return indices
}

func (b *Builder) persistDialogueTree(dialogueID string, a *analysis) error {
	t := &model.DialogueTree{
		DialogueID:        dialogueID,
		TotalNodes:        a.totalNodes,
		MaxDepth:          a.maxDepth,
		BranchCount:       a.branchCount,
		LeafCount:         a.leafCount,
		PrimaryPathLength: len(a.primaryPathIDs),
		HasRegenerations:  a.hasRegenerations,
		HasEdits:          a.hasEdits,
	}
	if a.primaryLeaf != nil {
		t.PrimaryLeafID = a.primaryLeaf.messageID
	}
	if err := b.store.InsertDialogueTree(t); err != nil {
		return errs.StoreUnavailable("insert dialogue tree", err)
	}
	return nil
}

func (b *Builder) persistMessagePaths(dialogueID string, a *analysis) error {
	if len(a.nodes) == 0 {
		return nil
	}
	siblingIndices := computeSiblingIndices(a.nodes)
	for _, n := range a.nodes {
		ancestors := ancestorIDs(n, a.nodes)
		p := &model.MessagePath{
			MessageID:       n.messageID,
			DialogueID:      dialogueID,
			AncestorPath:    ancestors,
			Depth:           len(ancestors),
			IsRoot:          n.parentID == nil,
			IsLeaf:          n.isLeaf(),
			ChildCount:      len(n.children),
			SiblingIndex:    siblingIndices[n.messageID],
			IsOnPrimaryPath: a.primaryPathIDs[n.messageID],
		}
		if err := b.store.InsertMessagePath(p); err != nil {
			return errs.StoreUnavailable("insert message path", err)
		}
	}
	return nil
}

func (b *Builder) persistLinearSequences(dialogueID string, a *analysis) (int, error) {
	if len(a.leaves) == 0 {
		return 0, nil
	}

	seqCount := 0
	for _, leaf := range a.leaves {
		isPrimary := a.primaryLeaf != nil && leaf.messageID == a.primaryLeaf.messageID
		pathIDs := append(ancestorIDs(leaf, a.nodes), leaf.messageID)

		var branchReason *model.BranchReason
		var branchPointID *string
		var branchedAtDepth *int

		if !isPrimary && len(a.primaryPathIDs) > 0 {
			for depth, msgID := range pathIDs {
				if a.primaryPathIDs[msgID] {
					continue
				}
				if depth > 0 {
					bp := pathIDs[depth-1]
					bd := depth - 1
					branchPointID = &bp
					branchedAtDepth = &bd
					if branchNode, ok := a.nodes[bp]; ok {
						roles := map[model.Role]bool{}
						for _, c := range branchNode.children {
							roles[c.role] = true
						}
						var reason model.BranchReason
						if len(roles) == 1 {
							reason = model.BranchRegeneration
						} else {
							reason = model.BranchEdit
						}
						branchReason = &reason
					}
				}
				break
			}
		}

		seq := &model.LinearSequence{
			ID:              uuid.NewString(),
			DialogueID:      dialogueID,
			LeafMessageID:   leaf.messageID,
			SequenceLength:  len(pathIDs),
			IsPrimary:       isPrimary,
			BranchReason:    branchReason,
			BranchPointID:   branchPointID,
			BranchedAtDepth: branchedAtDepth,
		}
		if err := b.store.InsertLinearSequence(seq); err != nil {
			return seqCount, errs.StoreUnavailable("insert linear sequence", err)
		}

		for pos, msgID := range pathIDs {
			sm := &model.SequenceMessage{SequenceID: seq.ID, MessageID: msgID, Position: pos}
			if err := b.store.InsertSequenceMessage(sm); err != nil {
				return seqCount, errs.StoreUnavailable("insert sequence message", err)
			}
		}
		seqCount++
	}
	return seqCount, nil
}
