package metadata

import (
	"fmt"
	"strings"

	"github.com/sigweihq/ebookpay/pkg/types"
)

// Trait names of published ebook documents. Catalog readers look attributes up by these.
const (
	TraitAuthor   = "作者"
	TraitPrice    = "价格"
	TraitFileType = "文件类型"
	TraitFileSize = "文件大小"
	TraitCategory = "分类"
)

// DocumentInput is what a creator supplies for a new ebook document
type DocumentInput struct {
	Name        string
	Description string
	Author      string
	Category    string
	Price       types.TokenAmount
	ImageURI    string
	FileURI     string
	FileType    string
	FileSize    int64
}

// NewDocument builds the metadata document uploaded before an ebook is listed
func NewDocument(in DocumentInput) (*types.ContentMetadata, error) {
	md := &types.ContentMetadata{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		ImageURI:    in.ImageURI,
		FileURI:     in.FileURI,
		Attributes: []types.Attribute{
			{TraitType: TraitAuthor, Value: strings.TrimSpace(in.Author)},
			{TraitType: TraitPrice, Value: in.Price.String()},
			{TraitType: TraitFileType, Value: in.FileType},
			{TraitType: TraitFileSize, Value: FormatFileSize(in.FileSize)},
			{TraitType: TraitCategory, Value: strings.TrimSpace(in.Category)},
		},
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}
	return md, nil
}

// FormatFileSize renders a byte count in megabytes with two decimals
func FormatFileSize(size int64) string {
	return fmt.Sprintf("%.2f MB", float64(size)/(1024*1024))
}

// Summary is the display view of a document used by catalog listings
type Summary struct {
	Name     string
	Author   string
	Category string
	FileType string
	ImageURI string
}

// Summarize extracts the display fields, with the same fallbacks the catalog shows
func Summarize(md *types.ContentMetadata) Summary {
	s := Summary{
		Name:     md.Name,
		Author:   "unknown author",
		Category: "other",
		FileType: "PDF",
		ImageURI: md.ImageURI,
	}
	if v, ok := md.Attribute(TraitAuthor); ok {
		if str, ok := v.(string); ok && str != "" {
			s.Author = str
		}
	}
	if v, ok := md.Attribute(TraitCategory); ok {
		if str, ok := v.(string); ok && str != "" {
			s.Category = str
		}
	}
	if v, ok := md.Attribute(TraitFileType); ok {
		if str, ok := v.(string); ok && str != "" {
			s.FileType = str
		}
	}
	return s
}
