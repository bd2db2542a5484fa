package download

import (
	"context"
	"io"
	"io/fs"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/ghostmarket/internal/domain/order"
	"github.com/xenking/ghostmarket/internal/domain/product"
)

// Access errors raised after the token itself checked out.
var (
	ErrProductMismatch     = errors.New("download token was issued for another product")
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	ErrProductNotInOrder   = errors.New("product is not part of this order")
	ErrFileMissing         = errors.New("product file is missing")
)

// Blob is an open stored file.
type Blob struct {
	Content io.ReadSeekCloser
	Size    int64
	ModTime time.Time
}

// BlobStore opens product files by storage key. A missing key must yield an
// error matching fs.ErrNotExist.
type BlobStore interface {
	Open(ctx context.Context, key string) (*Blob, error)
}

// OrderFinder loads orders for access checks.
type OrderFinder interface {
	FindByID(ctx context.Context, id string) (*order.Order, error)
}

// File is a file the caller may stream. Content must be closed.
type File struct {
	Name string
	*Blob
}

// Link is a freshly minted download URL.
type Link struct {
	DownloadURL string
	FileName    string
}

// Gate redeems tokens into files after checking payment and ownership.
type Gate struct {
	codec    *Codec
	orders   OrderFinder
	products product.Repository
	blobs    BlobStore
	baseURL  string
}

// NewGate creates a Gate. baseURL is the public origin used in links, e.g.
// https://market.example.com.
func NewGate(codec *Codec, orders OrderFinder, products product.Repository, blobs BlobStore, baseURL string) *Gate {
	return &Gate{
		codec:    codec,
		orders:   orders,
		products: products,
		blobs:    blobs,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// DownloadURL mints a signed URL for productID in orderID without touching
// storage.
func (g *Gate) DownloadURL(orderID, productID string) (string, error) {
	token, err := g.codec.Issue(orderID, productID)
	if err != nil {
		return "", errors.Wrap(err, "issue token")
	}
	return g.baseURL + "/api/download/secure/" + url.PathEscape(productID) +
		"?token=" + url.QueryEscape(token), nil
}

// Link re-issues a download link for a paid order that contains productID.
func (g *Gate) Link(ctx context.Context, orderID, productID string) (*Link, error) {
	_, p, err := g.authorize(ctx, orderID, productID)
	if err != nil {
		return nil, err
	}
	u, err := g.DownloadURL(orderID, productID)
	if err != nil {
		return nil, err
	}
	return &Link{DownloadURL: u, FileName: fileName(p)}, nil
}

// Download validates token and opens the file it grants. pathProductID is the
// product named in the request path, empty when the route carries none.
func (g *Gate) Download(ctx context.Context, token, pathProductID string) (*File, error) {
	claims, err := g.codec.Validate(token)
	if err != nil {
		return nil, err
	}
	if pathProductID != "" && pathProductID != claims.ProductID {
		return nil, ErrProductMismatch
	}

	_, p, err := g.authorize(ctx, claims.OrderID, claims.ProductID)
	if err != nil {
		return nil, err
	}

	b, err := g.blobs.Open(ctx, p.StorageKey)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			zctx.From(ctx).Error("Product file missing from storage",
				zap.String("product_id", p.ID),
				zap.String("storage_key", p.StorageKey),
			)
			return nil, ErrFileMissing
		}
		return nil, errors.Wrap(err, "open product file")
	}

	zctx.From(ctx).Info("Download granted",
		zap.String("order_id", claims.OrderID),
		zap.String("product_id", p.ID),
	)
	return &File{Name: fileName(p), Blob: b}, nil
}

func (g *Gate) authorize(ctx context.Context, orderID, productID string) (*order.Order, *product.Product, error) {
	o, err := g.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "find order")
	}
	if o.Status != order.StatusPaid {
		return nil, nil, ErrPaymentNotConfirmed
	}
	if !o.HasProduct(productID) {
		return nil, nil, ErrProductNotInOrder
	}
	p, err := g.products.GetByID(ctx, productID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "find product")
	}
	return o, p, nil
}

// fileName is the product name with the stored file's extension.
func fileName(p *product.Product) string {
	return p.Name + path.Ext(p.StorageKey)
}
