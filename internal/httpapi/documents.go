package httpapi

import (
	"errors"
	"io"
	"net/http"

	"aksara/backend/internal/document"
	"aksara/backend/internal/logging"
)

const (
	multipartOverheadBytes = 1 << 20
	multipartMemoryBytes   = 8 << 20

	messageUnsupportedDocument = "Format file tidak didukung. Hanya file PDF dan TXT yang dapat diproses."
	messageEmptyDocument       = "File kosong atau tidak berisi teks yang dapat dibaca."
	messageDocumentTooLarge    = "Ukuran file melebihi batas yang diizinkan."
	messageDocumentFailed      = "Gagal membaca isi dokumen. Pastikan file tidak rusak atau terproteksi."
	messageMissingDocument     = "Tidak ada file yang diunggah."
)

type documentResponse struct {
	Text      string `json:"text,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ParseDocument extracts plain text from a multipart "file" upload.
func (h Handler) ParseDocument(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	maxBytes := h.documents.MaxBytes()
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverheadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, documentResponse{Error: messageDocumentTooLarge})
			return
		}
		writeJSON(w, http.StatusBadRequest, documentResponse{Error: messageMissingDocument})
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, documentResponse{Error: messageMissingDocument})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, documentResponse{Error: messageDocumentFailed})
		return
	}

	result, err := h.documents.Extract(r.Context(), identity.UserID, document.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, documentResponse{Text: result.Text, Truncated: result.Truncated})
	case errors.Is(err, document.ErrUnsupportedType):
		writeJSON(w, http.StatusBadRequest, documentResponse{Error: messageUnsupportedDocument})
	case errors.Is(err, document.ErrEmptyFile), errors.Is(err, document.ErrNoText):
		writeJSON(w, http.StatusBadRequest, documentResponse{Error: messageEmptyDocument})
	case errors.Is(err, document.ErrTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, documentResponse{Error: messageDocumentTooLarge})
	default:
		logging.FromRequest(r).Warn().Err(err).Str("filename", header.Filename).Msg("document extraction failed")
		writeJSON(w, http.StatusUnprocessableEntity, documentResponse{Error: messageDocumentFailed})
	}
}
