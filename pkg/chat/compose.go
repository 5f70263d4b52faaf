package chat

import "strings"

// FileAttachment describes a user-provided file to attach to an outgoing
// message. Image attachments become Image blocks, everything else a File
// block.
type FileAttachment struct {
	Name      string
	MediaType string
	Size      int64
	Path      string
}

func (f FileAttachment) IsImage() bool {
	return strings.HasPrefix(f.MediaType, "image/")
}

// ComposeUserMessage builds a complete user message plus its blocks from
// plain text and optional attachments. All blocks are created with status
// success since user content is never streamed.
func ComposeUserMessage(topicID TopicID, text string, files []FileAttachment) (*Message, []*MessageBlock) {
	msg := NewUserMessage(topicID, WithMessageStatus(MessageStatusSuccess))

	var blocks []*MessageBlock
	if strings.TrimSpace(text) != "" {
		blocks = append(blocks, NewMainTextBlock(msg.ID, text, WithBlockStatus(BlockStatusSuccess)))
	}
	for _, f := range files {
		if f.IsImage() {
			blocks = append(blocks, NewImageBlock(msg.ID, &ImageContent{
				URLs: []string{f.Path},
				Metadata: map[string]any{
					"name":      f.Name,
					"mediaType": f.MediaType,
					"size":      f.Size,
				},
			}, WithBlockStatus(BlockStatusSuccess)))
			continue
		}
		blocks = append(blocks, NewFileBlock(msg.ID, &FileContent{
			Name:      f.Name,
			MediaType: f.MediaType,
			Size:      f.Size,
			Path:      f.Path,
		}, WithBlockStatus(BlockStatusSuccess)))
	}

	for _, b := range blocks {
		msg.BlockIDs = append(msg.BlockIDs, b.ID)
	}

	return msg, blocks
}
