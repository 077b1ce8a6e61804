package httpapi

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"unicode/utf8"

	"aksara/backend/internal/document"

	"github.com/rs/zerolog"
)

type memoryStore struct {
	objects map[string][]byte
}

func (s *memoryStore) Backend() string {
	return "memory"
}

func (s *memoryStore) PutObject(_ context.Context, objectPath, _ string, data []byte) error {
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[objectPath] = data
	return nil
}

func (s *memoryStore) DeletePrefix(_ context.Context, prefix string) error {
	for objectPath := range s.objects {
		if strings.HasPrefix(objectPath, prefix+"/") {
			delete(s.objects, objectPath)
		}
	}
	return nil
}

func multipartUpload(t *testing.T, filename, contentType string, data []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/parse-document", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return requestWithIdentity(req, "user-1")
}

func TestParseDocumentReturnsText(t *testing.T) {
	handler, _ := newTestHandler(t, &stubRelay{})

	resp := httptest.NewRecorder()
	handler.ParseDocument(resp, multipartUpload(t, "catatan.txt", "text/plain; charset=utf-8", []byte("Baris pertama\r\nBaris kedua\n")))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusOK, resp.Code, resp.Body.String())
	}
	var body documentResponse
	decodeJSONBody(t, resp, &body)
	if body.Text == "" || body.Error != "" || body.Truncated {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestParseDocumentReportsTruncation(t *testing.T) {
	handler, _ := newTestHandler(t, &stubRelay{})

	long := strings.Repeat("a", 200_001)
	resp := httptest.NewRecorder()
	handler.ParseDocument(resp, multipartUpload(t, "panjang.txt", "text/plain", []byte(long)))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	var body documentResponse
	decodeJSONBody(t, resp, &body)
	if !body.Truncated {
		t.Fatal("expected truncated flag for text over the cap")
	}
	if got := utf8.RuneCountInString(body.Text); got >= len(long) {
		t.Fatalf("expected shortened text, got %d runes", got)
	}
}

func TestDeleteAllConversationsPurgesArchivedUploads(t *testing.T) {
	deps, _ := newTestDeps(t, &stubRelay{})
	store := &memoryStore{}
	deps.Documents = document.NewExtractor(document.Options{Store: store, StoragePrefix: "docs", MaxBytes: 1 << 20, Logger: zerolog.Nop()})
	handler := NewHandler(deps)

	for _, userID := range []string{"user-1", "user-2"} {
		req := requestWithIdentity(multipartUpload(t, "catatan.txt", "text/plain", []byte("isi")), userID)
		resp := httptest.NewRecorder()
		handler.ParseDocument(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("upload for %s: expected status %d, got %d", userID, http.StatusOK, resp.Code)
		}
	}
	if len(store.objects) != 2 {
		t.Fatalf("expected 2 archived uploads, got %d", len(store.objects))
	}

	resp := httptest.NewRecorder()
	handler.DeleteAllConversations(resp, requestWithIdentity(httptest.NewRequest(http.MethodDelete, "/conversations", nil), "user-1"))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if len(store.objects) != 1 {
		t.Fatalf("expected only user-2's upload to remain, got %d", len(store.objects))
	}
	for objectPath := range store.objects {
		if !strings.HasPrefix(objectPath, "docs/users/user-2/") {
			t.Fatalf("unexpected remaining object: %s", objectPath)
		}
	}
}

func TestParseDocumentRejectsUnsupportedType(t *testing.T) {
	handler, _ := newTestHandler(t, &stubRelay{})

	resp := httptest.NewRecorder()
	handler.ParseDocument(resp, multipartUpload(t, "foto.png", "image/png", []byte{0x89, 'P', 'N', 'G'}))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
	var body documentResponse
	decodeJSONBody(t, resp, &body)
	if body.Error != messageUnsupportedDocument {
		t.Fatalf("unexpected error message: %q", body.Error)
	}
}

func TestParseDocumentRejectsEmptyFile(t *testing.T) {
	handler, _ := newTestHandler(t, &stubRelay{})

	resp := httptest.NewRecorder()
	handler.ParseDocument(resp, multipartUpload(t, "kosong.txt", "text/plain", nil))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
	var body documentResponse
	decodeJSONBody(t, resp, &body)
	if body.Error != messageEmptyDocument {
		t.Fatalf("unexpected error message: %q", body.Error)
	}
}

func TestParseDocumentUnreadablePDF(t *testing.T) {
	handler, _ := newTestHandler(t, &stubRelay{})

	resp := httptest.NewRecorder()
	handler.ParseDocument(resp, multipartUpload(t, "rusak.pdf", "application/pdf", []byte("not really a pdf")))

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status %d, got %d (%s)", http.StatusUnprocessableEntity, resp.Code, resp.Body.String())
	}
}

func TestParseDocumentWithoutFileField(t *testing.T) {
	handler, _ := newTestHandler(t, &stubRelay{})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("note", "tanpa file"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/parse-document", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req = requestWithIdentity(req, "user-1")
	resp := httptest.NewRecorder()

	handler.ParseDocument(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}
