package agent

import "encoding/json"

// blockAssembler rebuilds content blocks from partial stream events
type blockAssembler struct {
	open map[int]*ChatContentBlock
}

func newBlockAssembler() *blockAssembler {
	return &blockAssembler{open: map[int]*ChatContentBlock{}}
}

// apply folds one stream event into the open blocks. It returns the
// finished block on content_block_stop and nil otherwise.
func (a *blockAssembler) apply(msg StreamMessage) *ChatContentBlock {
	if msg.Type != "stream_event" || msg.Event == nil {
		return nil
	}
	ev := msg.Event

	switch ev.Type {
	case "content_block_start":
		if ev.ContentBlock == nil {
			return nil
		}
		block := &ChatContentBlock{Index: ev.Index}
		switch ev.ContentBlock.Type {
		case "tool_result":
			block.Type = ContentTypeToolResult
			block.ID = ev.ContentBlock.ToolUseID
			block.Text = ev.ContentBlock.Content
		case "tool_use":
			block.Type = ContentTypeToolUse
			block.Name = ev.ContentBlock.Name
			block.ID = ev.ContentBlock.ID
		case "thinking":
			block.Type = ContentTypeThinking
			block.Summary = ev.ContentBlock.Summary
		default:
			block.Type = ContentTypeText
		}
		a.open[ev.Index] = block
	case "content_block_delta":
		block := a.open[ev.Index]
		if block == nil || ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta", "thinking_delta":
			block.Text += ev.Delta.Text
		case "summary_delta":
			block.Summary += ev.Delta.Summary
		case "input_json_delta":
			block.Input += ev.Delta.Text
		}
	case "content_block_stop":
		block := a.open[ev.Index]
		if block == nil {
			return nil
		}
		delete(a.open, ev.Index)
		done := *block
		return &done
	}
	return nil
}

// parseStreamBlocks assembles completed blocks from raw stream-json lines
func parseStreamBlocks(lines []string) []ChatContentBlock {
	asm := newBlockAssembler()
	var blocks []ChatContentBlock
	for _, line := range lines {
		var msg StreamMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if block := asm.apply(msg); block != nil {
			blocks = append(blocks, *block)
		}
	}
	return blocks
}
