package ebook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sigweihq/ebookpay/pkg/constants"
	"github.com/sigweihq/ebookpay/pkg/metadata"
	"github.com/sigweihq/ebookpay/pkg/pinning"
	"github.com/sigweihq/ebookpay/pkg/types"
	"github.com/sigweihq/ebookpay/pkg/workflow"
)

// File is an upload: a name, its MIME type, size and contents
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Draft is everything a creator fills in to list an ebook
type Draft struct {
	Name        string
	Author      string
	Description string
	Category    string
	// Price is a decimal string in sales-token units, e.g. "9.99"
	Price      string
	CreatorPct int
	Cover      File
	Book       File
}

// Validate checks the draft before anything is uploaded and returns the parsed
// price and split
func (d Draft) Validate() (types.TokenAmount, types.RoyaltySplit, error) {
	required := []struct {
		field string
		value string
	}{
		{"name", d.Name},
		{"author", d.Author},
		{"description", d.Description},
		{"category", d.Category},
		{"price", d.Price},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return types.TokenAmount{}, types.RoyaltySplit{}, workflow.Invalid(r.field, "is required")
		}
	}
	if d.Cover.Body == nil {
		return types.TokenAmount{}, types.RoyaltySplit{}, workflow.Invalid("cover", "is required")
	}
	if d.Book.Body == nil {
		return types.TokenAmount{}, types.RoyaltySplit{}, workflow.Invalid("file", "is required")
	}
	if d.Book.Size > constants.MaxContentFileSize {
		return types.TokenAmount{}, types.RoyaltySplit{}, workflow.Invalid("file", "larger than %d MB", constants.MaxContentFileSize/(1024*1024))
	}

	price, err := types.ParseTokenAmount(d.Price, constants.PriceDecimals)
	if err != nil {
		return types.TokenAmount{}, types.RoyaltySplit{}, workflow.Invalid("price", "%v", err)
	}
	if err := ValidatePrice(price); err != nil {
		return types.TokenAmount{}, types.RoyaltySplit{}, err
	}

	split, err := types.NewRoyaltySplit(d.CreatorPct)
	if err != nil {
		return types.TokenAmount{}, types.RoyaltySplit{}, workflow.Invalid("split", "%v", err)
	}
	return price, split, nil
}

// Publication records what Publish uploaded and how listing ended
type Publication struct {
	CoverURI    string
	FileURI     string
	MetadataURI string
	Snapshot    workflow.Snapshot
}

// Publisher uploads an ebook and lists it for sale
type Publisher struct {
	catalog  *Catalog
	uploader pinning.Uploader
	workflow *workflow.Workflow
	logger   *slog.Logger
}

func NewPublisher(catalog *Catalog, uploader pinning.Uploader, wf *workflow.Workflow, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		catalog:  catalog,
		uploader: uploader,
		workflow: wf,
		logger:   logger,
	}
}

// Publish validates the draft, uploads cover, file and metadata document, then runs
// define-for-sale. Uploads are content-addressed, so a retry after a failed listing
// re-uploads to the same pointers.
func (p *Publisher) Publish(ctx context.Context, draft Draft) (*Publication, error) {
	price, split, err := draft.Validate()
	if err != nil {
		return nil, err
	}

	pub := &Publication{}
	if pub.CoverURI, err = p.upload(ctx, "cover", draft.Cover.Name, draft.Cover.Body); err != nil {
		return pub, err
	}
	if pub.FileURI, err = p.upload(ctx, "file", draft.Book.Name, draft.Book.Body); err != nil {
		return pub, err
	}

	doc, err := metadata.NewDocument(metadata.DocumentInput{
		Name:        draft.Name,
		Description: draft.Description,
		Author:      draft.Author,
		Category:    draft.Category,
		Price:       price,
		ImageURI:    pub.CoverURI,
		FileURI:     pub.FileURI,
		FileType:    draft.Book.ContentType,
		FileSize:    draft.Book.Size,
	})
	if err != nil {
		return pub, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return pub, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if pub.MetadataURI, err = p.upload(ctx, "metadata", "metadata.json", bytes.NewReader(raw)); err != nil {
		return pub, err
	}

	pub.Snapshot, err = p.workflow.Submit(ctx, p.catalog.NewDefineForSale(pub.MetadataURI, price, split))
	return pub, err
}

func (p *Publisher) upload(ctx context.Context, kind, name string, body io.Reader) (string, error) {
	pointer, err := p.uploader.Upload(ctx, name, body)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s %s: %w", kind, name, err)
	}
	p.logger.Info("uploaded", "kind", kind, "name", name, "pointer", pointer)
	return pointer, nil
}
