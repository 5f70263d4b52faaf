package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type BlockType string

const (
	BlockTypeMainText  BlockType = "main_text"
	BlockTypeTool      BlockType = "tool"
	BlockTypeImage     BlockType = "image"
	BlockTypeCitation  BlockType = "citation"
	BlockTypeWebSearch BlockType = "web_search"
	BlockTypeError     BlockType = "error"
	// File blocks are only ever created for user attachments, never by the
	// streaming pipeline.
	BlockTypeFile BlockType = "file"
)

type BlockStatus string

const (
	BlockStatusPending   BlockStatus = "pending"
	BlockStatusStreaming BlockStatus = "streaming"
	BlockStatusSuccess   BlockStatus = "success"
	BlockStatusError     BlockStatus = "error"
)

// Terminal reports whether the status freezes the block against further content updates.
func (s BlockStatus) Terminal() bool {
	return s == BlockStatusSuccess || s == BlockStatusError
}

// BlockContent is the tagged-variant payload of a MessageBlock, one concrete
// type per block kind.
type BlockContent interface {
	BlockType() BlockType
	String() string
}

type MainTextContent struct {
	Text string `json:"text" yaml:"text"`
}

func (c *MainTextContent) BlockType() BlockType { return BlockTypeMainText }
func (c *MainTextContent) String() string       { return c.Text }

var _ BlockContent = (*MainTextContent)(nil)

type ToolContent struct {
	ToolID string `json:"toolID" yaml:"toolID"`
	Name   string `json:"name" yaml:"name"`
	Result string `json:"result" yaml:"result"`
	// Error carries the tool-side failure description when the call did not
	// complete with status done.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

func (c *ToolContent) BlockType() BlockType { return BlockTypeTool }
func (c *ToolContent) String() string {
	return fmt.Sprintf("ToolContent{ToolID: %s, Name: %s}", c.ToolID, c.Name)
}

var _ BlockContent = (*ToolContent)(nil)

type ImageContent struct {
	URLs     []string       `json:"urls" yaml:"urls"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func (c *ImageContent) BlockType() BlockType { return BlockTypeImage }
func (c *ImageContent) String() string {
	return fmt.Sprintf("ImageContent{URLs: %v}", c.URLs)
}

var _ BlockContent = (*ImageContent)(nil)

// Citation is a single source annotation attached to generated text.
type Citation struct {
	Title      string `json:"title,omitempty" yaml:"title,omitempty"`
	URL        string `json:"url,omitempty" yaml:"url,omitempty"`
	Snippet    string `json:"snippet,omitempty" yaml:"snippet,omitempty"`
	StartIndex *int   `json:"start_index,omitempty" yaml:"start_index,omitempty"`
	EndIndex   *int   `json:"end_index,omitempty" yaml:"end_index,omitempty"`
}

type CitationContent struct {
	Citations []Citation `json:"citations" yaml:"citations"`
}

func (c *CitationContent) BlockType() BlockType { return BlockTypeCitation }
func (c *CitationContent) String() string {
	return fmt.Sprintf("CitationContent{%d citations}", len(c.Citations))
}

var _ BlockContent = (*CitationContent)(nil)

type SearchResult struct {
	Title   string `json:"title,omitempty" yaml:"title,omitempty"`
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	Snippet string `json:"snippet,omitempty" yaml:"snippet,omitempty"`
}

type WebSearchContent struct {
	Query   string         `json:"query,omitempty" yaml:"query,omitempty"`
	Results []SearchResult `json:"results" yaml:"results"`
}

func (c *WebSearchContent) BlockType() BlockType { return BlockTypeWebSearch }
func (c *WebSearchContent) String() string {
	return fmt.Sprintf("WebSearchContent{Query: %s, %d results}", c.Query, len(c.Results))
}

var _ BlockContent = (*WebSearchContent)(nil)

type ErrorContent struct {
	Message string `json:"message" yaml:"message"`
	Details string `json:"details,omitempty" yaml:"details,omitempty"`
}

func (c *ErrorContent) BlockType() BlockType { return BlockTypeError }
func (c *ErrorContent) String() string       { return c.Message }

var _ BlockContent = (*ErrorContent)(nil)

type FileContent struct {
	Name      string `json:"name" yaml:"name"`
	MediaType string `json:"mediaType,omitempty" yaml:"mediaType,omitempty"`
	Size      int64  `json:"size,omitempty" yaml:"size,omitempty"`
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
}

func (c *FileContent) BlockType() BlockType { return BlockTypeFile }
func (c *FileContent) String() string {
	return fmt.Sprintf("FileContent{Name: %s, MediaType: %s}", c.Name, c.MediaType)
}

var _ BlockContent = (*FileContent)(nil)

type BlockID string

func NewBlockID() BlockID { return BlockID(uuid.NewString()) }

// MessageBlock is an atomic, typed unit of message content with its own
// lifecycle status.
type MessageBlock struct {
	ID        BlockID      `json:"id" yaml:"id"`
	MessageID MessageID    `json:"messageID" yaml:"messageID"`
	Content   BlockContent `json:"content" yaml:"content"`
	Status    BlockStatus  `json:"status" yaml:"status"`
	CreatedAt time.Time    `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt" yaml:"updatedAt"`
}

func (b *MessageBlock) Type() BlockType { return b.Content.BlockType() }

type BlockOption func(*MessageBlock)

func WithBlockID(id BlockID) BlockOption {
	return func(b *MessageBlock) { b.ID = id }
}

func WithBlockStatus(status BlockStatus) BlockOption {
	return func(b *MessageBlock) { b.Status = status }
}

func WithBlockCreatedAt(t time.Time) BlockOption {
	return func(b *MessageBlock) {
		b.CreatedAt = t
		b.UpdatedAt = t
	}
}

func NewBlock(messageID MessageID, content BlockContent, options ...BlockOption) *MessageBlock {
	now := time.Now()
	ret := &MessageBlock{
		ID:        NewBlockID(),
		MessageID: messageID,
		Content:   content,
		Status:    BlockStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func NewMainTextBlock(messageID MessageID, text string, options ...BlockOption) *MessageBlock {
	return NewBlock(messageID, &MainTextContent{Text: text}, options...)
}

func NewToolBlock(messageID MessageID, content *ToolContent, options ...BlockOption) *MessageBlock {
	return NewBlock(messageID, content, options...)
}

func NewImageBlock(messageID MessageID, content *ImageContent, options ...BlockOption) *MessageBlock {
	return NewBlock(messageID, content, options...)
}

func NewCitationBlock(messageID MessageID, citations []Citation, options ...BlockOption) *MessageBlock {
	return NewBlock(messageID, &CitationContent{Citations: citations}, options...)
}

func NewWebSearchBlock(messageID MessageID, content *WebSearchContent, options ...BlockOption) *MessageBlock {
	return NewBlock(messageID, content, options...)
}

func NewErrorBlock(messageID MessageID, message string, details string, options ...BlockOption) *MessageBlock {
	options = append([]BlockOption{WithBlockStatus(BlockStatusError)}, options...)
	return NewBlock(messageID, &ErrorContent{Message: message, Details: details}, options...)
}

func NewFileBlock(messageID MessageID, content *FileContent, options ...BlockOption) *MessageBlock {
	return NewBlock(messageID, content, options...)
}

func (b *MessageBlock) MarshalZerologObject(e *zerolog.Event) {
	e.Str("block_id", string(b.ID)).
		Str("message_id", string(b.MessageID)).
		Str("type", string(b.Type())).
		Str("status", string(b.Status))
}

func (b *MessageBlock) MarshalJSON() ([]byte, error) {
	type Alias MessageBlock
	return json.Marshal(&struct {
		Type BlockType `json:"type"`
		*Alias
	}{
		Type:  b.Type(),
		Alias: (*Alias)(b),
	})
}

func (b *MessageBlock) UnmarshalJSON(data []byte) error {
	var header struct {
		Type    BlockType       `json:"type"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return err
	}

	content, err := UnmarshalBlockContent(header.Type, header.Content)
	if err != nil {
		return err
	}

	type Alias MessageBlock
	alias := &struct {
		Content json.RawMessage `json:"content"`
		*Alias
	}{
		Alias: (*Alias)(b),
	}
	if err := json.Unmarshal(data, alias); err != nil {
		return err
	}
	b.Content = content

	return nil
}

// UnmarshalBlockContent decodes a raw content payload into the concrete
// variant selected by the block type tag.
func UnmarshalBlockContent(blockType BlockType, data []byte) (BlockContent, error) {
	var content BlockContent
	switch blockType {
	case BlockTypeMainText:
		content = &MainTextContent{}
	case BlockTypeTool:
		content = &ToolContent{}
	case BlockTypeImage:
		content = &ImageContent{}
	case BlockTypeCitation:
		content = &CitationContent{}
	case BlockTypeWebSearch:
		content = &WebSearchContent{}
	case BlockTypeError:
		content = &ErrorContent{}
	case BlockTypeFile:
		content = &FileContent{}
	default:
		return nil, errors.Errorf("unknown block type %q", blockType)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, content); err != nil {
			return nil, errors.Wrapf(err, "could not decode %s block content", blockType)
		}
	}
	return content, nil
}
