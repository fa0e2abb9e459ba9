package handlers

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/docdrop/backend/internal/models"
)

func uploadedPptx(t *testing.T, env *testEnv, opsToken, filename string, contents []byte) string {
	t.Helper()
	resp := performUpload(t, env.app, opsToken, filename, contents)
	assertStatus(t, resp, http.StatusCreated)
	data := dataMap(t, decodeJSONMap(t, resp))
	fileID, _ := data["fileID"].(string)
	if fileID == "" {
		t.Fatalf("expected a fileID in the upload response, got %+v", data)
	}
	return fileID
}

func requestDownloadToken(t *testing.T, env *testEnv, clientToken, fileID string) string {
	t.Helper()
	resp := performRequest(t, env.app, http.MethodGet, "/client/download-file/"+fileID, nil, authHeaders(clientToken))
	assertStatus(t, resp, http.StatusOK)
	data := dataMap(t, decodeJSONMap(t, resp))
	link, _ := data["downloadLink"].(string)
	const prefix = "http://localhost:8080/download-file/"
	if !strings.HasPrefix(link, prefix) {
		t.Fatalf("unexpected download link %q", link)
	}
	return strings.TrimPrefix(link, prefix)
}

func TestUploadRequiresOpsRole(t *testing.T) {
	env := setupTestEnv(t)

	_, clientToken := createTestUser(t, env.db, "client@example.com", "secret-password", models.UserRoleClient, true)

	resp := performUpload(t, env.app, clientToken, "deck.pptx", []byte("slides"))
	assertStatus(t, resp, http.StatusForbidden)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "ops access required")

	resp = performRequest(t, env.app, http.MethodPost, "/ops/upload", bytes.NewReader(nil), nil)
	assertStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestUploadEnforcesExtensionAllowList(t *testing.T) {
	env := setupTestEnv(t)

	_, opsToken := createTestUser(t, env.db, "ops@example.com", "secret-password", models.UserRoleOps, true)

	resp := performUpload(t, env.app, opsToken, "malware.exe", []byte("MZ"))
	assertStatus(t, resp, http.StatusBadRequest)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "only pptx, docx, and xlsx files are allowed")

	// The extension check is case-insensitive.
	resp = performUpload(t, env.app, opsToken, "QUARTERLY.PPTX", []byte("slides"))
	assertStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = performUpload(t, env.app, opsToken, "no-extension", []byte("data"))
	assertStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestUploadRequiresFilePart(t *testing.T) {
	env := setupTestEnv(t)

	_, opsToken := createTestUser(t, env.db, "ops@example.com", "secret-password", models.UserRoleOps, true)

	headers := authHeaders(opsToken)
	headers["Content-Type"] = "multipart/form-data; boundary=empty"
	resp := performRequest(t, env.app, http.MethodPost, "/ops/upload", strings.NewReader("--empty--\r\n"), headers)
	assertStatus(t, resp, http.StatusBadRequest)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "file is required")
}

func TestListFilesExposesMetadataOnly(t *testing.T) {
	env := setupTestEnv(t)

	_, opsToken := createTestUser(t, env.db, "ops@example.com", "secret-password", models.UserRoleOps, true)
	_, clientToken := createTestUser(t, env.db, "client@example.com", "secret-password", models.UserRoleClient, true)

	uploadedPptx(t, env, opsToken, "report.pptx", []byte("five hundred bytes of deck"))

	resp := performRequest(t, env.app, http.MethodGet, "/client/files", nil, authHeaders(clientToken))
	assertStatus(t, resp, http.StatusOK)
	body := decodeJSONMap(t, resp)

	files, ok := body["data"].([]any)
	if !ok || len(files) != 1 {
		t.Fatalf("expected one file entry, got %+v", body["data"])
	}
	entry, _ := files[0].(map[string]any)
	if entry["originalName"] != "report.pptx" {
		t.Fatalf("expected original filename, got %v", entry["originalName"])
	}
	if entry["size"] != float64(len("five hundred bytes of deck")) {
		t.Fatalf("expected recorded size, got %v", entry["size"])
	}
	for _, hidden := range []string{"storedName", "storagePath", "checksum", "uploaderID"} {
		if _, leaked := entry[hidden]; leaked {
			t.Fatalf("field %s must not be serialized", hidden)
		}
	}
}

func TestDownloadGrantLifecycle(t *testing.T) {
	env := setupTestEnv(t)

	_, opsToken := createTestUser(t, env.db, "ops@example.com", "secret-password", models.UserRoleOps, true)
	_, clientToken := createTestUser(t, env.db, "client@example.com", "secret-password", models.UserRoleClient, true)

	contents := []byte("the quick brown fox jumps over the lazy dog")
	fileID := uploadedPptx(t, env, opsToken, "fox.docx", contents)
	token := requestDownloadToken(t, env, clientToken, fileID)

	resp := performRequest(t, env.app, http.MethodGet, "/download-file/"+token, nil, authHeaders(clientToken))
	assertStatus(t, resp, http.StatusOK)

	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "fox.docx") {
		t.Fatalf("expected original filename in Content-Disposition, got %q", cd)
	}
	streamed, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("failed reading streamed body: %v", err)
	}
	if !bytes.Equal(streamed, contents) {
		t.Fatalf("streamed bytes differ from uploaded bytes")
	}

	// Second redemption of the same grant is refused.
	resp = performRequest(t, env.app, http.MethodGet, "/download-file/"+token, nil, authHeaders(clientToken))
	assertStatus(t, resp, http.StatusForbidden)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "invalid, expired, or already used download token")
}

func TestRequestDownloadUnknownFile(t *testing.T) {
	env := setupTestEnv(t)

	_, clientToken := createTestUser(t, env.db, "client@example.com", "secret-password", models.UserRoleClient, true)

	resp := performRequest(t, env.app, http.MethodGet, "/client/download-file/2c3b1f06-58f4-4e8c-9a38-000000000000", nil, authHeaders(clientToken))
	assertStatus(t, resp, http.StatusNotFound)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "file not found")

	resp = performRequest(t, env.app, http.MethodGet, "/client/download-file/not-a-uuid", nil, authHeaders(clientToken))
	assertStatus(t, resp, http.StatusBadRequest)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "invalid file id")
}

func TestGrantIsBoundToRequestingUser(t *testing.T) {
	env := setupTestEnv(t)

	_, opsToken := createTestUser(t, env.db, "ops@example.com", "secret-password", models.UserRoleOps, true)
	_, aliceToken := createTestUser(t, env.db, "alice@example.com", "secret-password", models.UserRoleClient, true)
	_, bobToken := createTestUser(t, env.db, "bob@example.com", "secret-password", models.UserRoleClient, true)

	fileID := uploadedPptx(t, env, opsToken, "deck.pptx", []byte("slides"))
	token := requestDownloadToken(t, env, aliceToken, fileID)

	resp := performRequest(t, env.app, http.MethodGet, "/download-file/"+token, nil, authHeaders(bobToken))
	assertStatus(t, resp, http.StatusForbidden)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "invalid, expired, or already used download token")

	// A foreign redemption attempt does not burn the grant.
	resp = performRequest(t, env.app, http.MethodGet, "/download-file/"+token, nil, authHeaders(aliceToken))
	assertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestExpiredGrantIsRefused(t *testing.T) {
	env := setupTestEnv(t)

	_, opsToken := createTestUser(t, env.db, "ops@example.com", "secret-password", models.UserRoleOps, true)
	_, clientToken := createTestUser(t, env.db, "client@example.com", "secret-password", models.UserRoleClient, true)

	fileID := uploadedPptx(t, env, opsToken, "deck.pptx", []byte("slides"))
	token := requestDownloadToken(t, env, clientToken, fileID)

	if err := env.db.Model(&models.DownloadGrant{}).
		Where("token = ?", token).
		Update("expires_at", time.Now().Add(-time.Minute)).Error; err != nil {
		t.Fatalf("failed backdating grant: %v", err)
	}

	resp := performRequest(t, env.app, http.MethodGet, "/download-file/"+token, nil, authHeaders(clientToken))
	assertStatus(t, resp, http.StatusForbidden)
	assertEnvelopeError(t, decodeJSONMap(t, resp), "invalid, expired, or already used download token")
}

func TestHealthReportsDatabase(t *testing.T) {
	env := setupTestEnv(t)

	resp := performRequest(t, env.app, http.MethodGet, "/health", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	body := decodeJSONMap(t, resp)
	if body["status"] != "healthy" {
		t.Fatalf("expected healthy status, got %v", body["status"])
	}
	if body["database"] != "connected" {
		t.Fatalf("expected connected database, got %v", body["database"])
	}
}

func TestUploadOverBodyLimitRejected(t *testing.T) {
	env := setupTestEnvWithBodyLimit(t, 1024)

	_, opsToken := createTestUser(t, env.db, "ops@example.com", "secret-password", models.UserRoleOps, true)

	oversized := bytes.Repeat([]byte("x"), 4*1024)
	resp := performUpload(t, env.app, opsToken, "huge.pptx", oversized)
	assertStatus(t, resp, http.StatusRequestEntityTooLarge)
	resp.Body.Close()

	// Nothing lands in the registry.
	var count int64
	if err := env.db.Model(&models.StoredFile{}).Count(&count).Error; err != nil {
		t.Fatalf("failed counting records: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no registry record for an oversized upload, got %d", count)
	}
}
