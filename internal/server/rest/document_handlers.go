package rest

import (
	"net/http"

	"github.com/dmitrijs2005/leadcrm/internal/server/services"
)

type uploadURLRequest struct {
	FileName string `json:"fileName" validate:"required,max=255"`
}

type uploadURLResponse struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	ExpiresIn int    `json:"expiresIn"`
}

type downloadURLResponse struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expiresIn"`
}

func (h *Handler) DocumentUploadURL(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r.Context())

	var req uploadURLRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	key, url, err := h.documents.UploadURL(r.Context(), claims.UserID, req.FileName)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusOK, "", uploadURLResponse{
		Key: key, URL: url, ExpiresIn: int(services.PresignExpiry.Seconds()),
	})
}

func (h *Handler) DocumentDownloadURL(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r.Context())

	url, err := h.documents.DownloadURL(r.Context(), claims.UserID, r.URL.Query().Get("key"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	respondOK(w, http.StatusOK, "", downloadURLResponse{
		URL: url, ExpiresIn: int(services.PresignExpiry.Seconds()),
	})
}
