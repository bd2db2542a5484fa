package handler

import (
	"mime"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/ghostmarket/internal/domain/download"
	"github.com/xenking/ghostmarket/internal/domain/order"
	"github.com/xenking/ghostmarket/internal/domain/product"
)

// secureDownload streams a purchased file to the holder of a valid token.
// The token travels in the query string so the link works from an email.
func (h *Handler) secureDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := r.URL.Query().Get("token")

	file, err := h.gate.Download(ctx, token, r.PathValue("productId"))
	if err != nil {
		h.downloadError(w, r, err)
		return
	}
	defer func() {
		if err := file.Content.Close(); err != nil {
			zctx.From(ctx).Warn("Close product file", zap.Error(err))
		}
	}()

	hdr := w.Header()
	hdr.Set("Content-Type", "application/octet-stream")
	hdr.Set("Content-Disposition", contentDisposition(file.Name))
	hdr.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	hdr.Set("Pragma", "no-cache")
	hdr.Set("Expires", "0")

	http.ServeContent(w, r, file.Name, file.ModTime, file.Content)
}

// downloadLink re-issues a download link for a product in an order the
// caller owns.
func (h *Handler) downloadLink(w http.ResponseWriter, r *http.Request) {
	o, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	link, err := h.gate.Link(r.Context(), o.ID, r.PathValue("productId"))
	if err != nil {
		h.downloadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &linkResponse{
		DownloadURL: link.DownloadURL,
		FileName:    link.FileName,
	})
}

// downloadError maps token and access errors to responses.
func (h *Handler) downloadError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, download.ErrMissingToken):
		writeError(w, http.StatusBadRequest, download.ErrMissingToken.Error())
	case errors.Is(err, download.ErrMalformedToken),
		errors.Is(err, download.ErrTokenExpired),
		errors.Is(err, download.ErrInvalidSignature),
		errors.Is(err, download.ErrProductMismatch):
		writeError(w, http.StatusUnauthorized, rootDownloadMessage(err))
	case errors.Is(err, download.ErrPaymentNotConfirmed):
		writeError(w, http.StatusForbidden, download.ErrPaymentNotConfirmed.Error())
	case errors.Is(err, download.ErrProductNotInOrder):
		writeError(w, http.StatusForbidden, download.ErrProductNotInOrder.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, order.ErrNotFound.Error())
	case errors.Is(err, product.ErrNotFound),
		errors.Is(err, download.ErrFileMissing):
		writeError(w, http.StatusNotFound, download.ErrFileMissing.Error())
	default:
		writeInternal(r.Context(), w, err)
	}
}

func rootDownloadMessage(err error) string {
	for _, sentinel := range []error{
		download.ErrMalformedToken,
		download.ErrTokenExpired,
		download.ErrInvalidSignature,
		download.ErrProductMismatch,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

// contentDisposition builds an attachment header. Non-ASCII names get an
// RFC 5987 filename* alongside a sanitized ASCII fallback.
func contentDisposition(name string) string {
	nonASCII := false
	ascii := strings.Map(func(r rune) rune {
		switch {
		case r > 0x7e:
			nonASCII = true
			return '_'
		case r < 0x20, r == '"', r == '\\':
			return '_'
		default:
			return r
		}
	}, name)
	v := `attachment; filename="` + ascii + `"`
	if !nonASCII {
		return v
	}
	ext := mime.FormatMediaType("attachment", map[string]string{"filename": name})
	if ext == "" {
		return v
	}
	return v + "; " + strings.TrimPrefix(ext, "attachment; ")
}
