package linker

import (
	"context"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"

	"github.com/hazyhaar/smartlink/anchor"
)

// Preview describes where an applied link sits in its document: the
// containing paragraph as markup and as markdown, plus position flags.
type Preview struct {
	UID       string `json:"uid"`
	BlockID   string `json:"block_id"`
	Paragraph string `json:"paragraph"`
	Markdown  string `json:"markdown"`
	IsFirst   bool   `json:"is_first_paragraph"`
	IsLast    bool   `json:"is_last_paragraph"`

	// Original is the paragraph as it read before the link was applied,
	// empty when no backup exists.
	Original string `json:"original_paragraph,omitempty"`
}

var newMarkdownConverter = sync.OnceValue(func() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
})

// Preview returns the paragraph preview for an applied link.
func (s *Service) Preview(ctx context.Context, uid string) (*Preview, error) {
	link, err := s.st.GetLink(ctx, uid)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, ErrLinkNotFound
	}

	docRow, err := s.st.GetDocument(ctx, link.SourceID)
	if err != nil {
		return nil, err
	}
	if docRow == nil {
		return nil, ErrDocumentNotFound
	}
	doc, err := parseStored(docRow)
	if err != nil {
		return nil, err
	}

	p, err := anchor.FindParagraph(doc, uid)
	if err != nil {
		return nil, err
	}

	md, err := newMarkdownConverter().ConvertString(p.Markup)
	if err != nil {
		return nil, err
	}
	original, err := s.st.GetBackup(ctx, uid)
	if err != nil {
		return nil, err
	}

	return &Preview{
		UID:       uid,
		BlockID:   p.BlockID,
		Paragraph: p.Markup,
		Markdown:  md,
		IsFirst:   p.IsFirst,
		IsLast:    p.IsLast,
		Original:  original,
	}, nil
}
