package chunker

import "testing"

func TestChunkSplitsHeadingAndParagraph(t *testing.T) {
	text := "# Title\nSome intro paragraph\nstill the same paragraph\n\nAnother paragraph."
	blocks := New().Chunk(text)

	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d: %+v", len(blocks), blocks)
	}
	if blocks[0].Kind != KindHeading {
		t.Errorf("expected first block to be a heading, got %s", blocks[0].Kind)
	}
	if blocks[1].Kind != KindParagraph {
		t.Errorf("expected second block to be a paragraph, got %s", blocks[1].Kind)
	}
	if blocks[2].Text != "Another paragraph." {
		t.Errorf("expected the blank line to separate paragraphs, got %q", blocks[2].Text)
	}
}

func TestChunkKeepsCodeFenceAsOneBlockRegardlessOfContent(t *testing.T) {
	text := "intro\n```python\ndef f():\n    # not a heading\n    return 1\n```\noutro"
	blocks := New().Chunk(text)

	var fenceBlocks int
	for _, b := range blocks {
		if b.Kind == KindCodeFence {
			fenceBlocks++
			if b.StartLine != 1 || b.EndLine != 5 {
				t.Errorf("expected fence to span lines 1-5, got %d-%d", b.StartLine, b.EndLine)
			}
		}
	}
	if fenceBlocks != 1 {
		t.Fatalf("expected exactly 1 code fence block, got %d", fenceBlocks)
	}
}

func TestChunkMergesConsecutiveListItems(t *testing.T) {
	text := "- one\n- two\n- three"
	blocks := New().Chunk(text)
	if len(blocks) != 1 {
		t.Fatalf("expected consecutive list items to merge into 1 block, got %d: %+v", len(blocks), blocks)
	}
	if blocks[0].Kind != KindList {
		t.Errorf("expected a list block, got %s", blocks[0].Kind)
	}
}

func TestChunkDetectsOrderedListAndBlockquote(t *testing.T) {
	text := "1. first\n2. second\n> a quote"
	blocks := New().Chunk(text)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks (ordered list, blockquote), got %d: %+v", len(blocks), blocks)
	}
	if blocks[0].Kind != KindList {
		t.Errorf("expected ordered list items to classify as KindList, got %s", blocks[0].Kind)
	}
	if blocks[1].Kind != KindBlockquote {
		t.Errorf("expected blockquote classification, got %s", blocks[1].Kind)
	}
}

func TestChunkEmptyTextYieldsNoBlocks(t *testing.T) {
	blocks := New().Chunk("")
	if len(blocks) != 0 {
		t.Errorf("expected no blocks for empty text, got %+v", blocks)
	}
}
