package uploads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"carbonease-backend/internal/domain"

	nanoid "github.com/jaevor/go-nanoid"
)

// Signer issues pre-signed upload URLs on object storage.
type Signer interface {
	CreateSignedUploadURL(ctx context.Context, bucket, path string) (string, error)
}

// SupabaseSigner is a Signer backed by the Supabase storage HTTP API.
type SupabaseSigner struct {
	BaseURL   string
	SecretKey string
	Client    *http.Client
}

type signedUploadResponse struct {
	SignedURL      string `json:"signedUrl"`
	SignedURLSnake string `json:"signed_url"`
	URL            string `json:"url"`
}

func (c *SupabaseSigner) CreateSignedUploadURL(ctx context.Context, bucket, path string) (string, error) {
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if c.BaseURL == "" {
		return "", fmt.Errorf("supabase: SUPABASE_URL is not set")
	}
	if c.SecretKey == "" {
		return "", fmt.Errorf("supabase: SUPABASE_SECRET_KEY is not set")
	}
	base := strings.TrimRight(c.BaseURL, "/")
	url := fmt.Sprintf("%s/storage/v1/object/upload/sign/%s/%s", base, bucket, path)

	body, _ := json.Marshal(map[string]interface{}{"expiresIn": 3600, "upsert": false})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("apikey", c.SecretKey)
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("supabase request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("supabase error: status %d body: %s", resp.StatusCode, string(respBody))
	}

	var data signedUploadResponse
	if err := json.Unmarshal(respBody, &data); err != nil {
		return "", fmt.Errorf("supabase response decode: %w", err)
	}
	switch {
	case data.SignedURL != "":
		return data.SignedURL, nil
	case data.SignedURLSnake != "":
		return data.SignedURLSnake, nil
	case data.URL != "":
		// relative, e.g. /object/upload/sign/...?token=
		u := data.URL
		if u[0] != '/' {
			u = "/" + u
		}
		return base + "/storage/v1" + u, nil
	}
	return "", fmt.Errorf("supabase returned no signed URL, body: %s", string(respBody))
}

// Kind selects the bucket and the accepted file types.
type Kind string

const (
	KindImage    Kind = "image"
	KindDocument Kind = "document"
)

var (
	buckets = map[Kind]string{
		KindImage:    "credit-images",
		KindDocument: "credit-documents",
	}
	extensions = map[Kind][]string{
		KindImage:    {".jpg", ".jpeg", ".png", ".gif", ".webp"},
		KindDocument: {".pdf", ".doc", ".docx"},
	}
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

const maxFileNameLength = 120

// Service hands sellers signed URLs for listing images and documents.
type Service struct {
	Signer      Signer
	SupabaseURL string
	newID       func() string
}

func NewService(signer Signer, supabaseURL string) (*Service, error) {
	gen, err := nanoid.Standard(10)
	if err != nil {
		return nil, err
	}
	return &Service{Signer: signer, SupabaseURL: supabaseURL, newID: gen}, nil
}

type UploadResult struct {
	UploadURL string `json:"uploadUrl"`
	PublicURL string `json:"publicUrl"`
	Path      string `json:"path"`
}

// SignUpload returns a one-hour upload URL and the public URL the object
// will be served from once uploaded. Objects are namespaced by seller.
func (s *Service) SignUpload(ctx context.Context, seller *domain.User, kind Kind, fileName string) (*UploadResult, error) {
	if seller == nil || seller.Role != domain.RoleSeller {
		return nil, &domain.NotAuthorizedError{Message: "Only sellers can upload listing media"}
	}
	bucket, ok := buckets[kind]
	if !ok {
		return nil, domain.NewValidationError("Invalid upload type")
	}
	name := strings.TrimSpace(fileName)
	if name == "" {
		return nil, domain.NewValidationError("fileName is required", domain.FieldError{Field: "fileName", Message: "is required"})
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !allowed(kind, ext) {
		return nil, domain.NewValidationError("Unsupported file type",
			domain.FieldError{Field: "fileName", Message: "must end in one of " + strings.Join(extensions[kind], ", ")})
	}
	base := unsafeChars.ReplaceAllString(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)), "-")
	if len(base) > maxFileNameLength {
		base = base[:maxFileNameLength]
	}
	path := fmt.Sprintf("%s/%s-%s%s", seller.ID, s.newID(), base, ext)

	signed, err := s.Signer.CreateSignedUploadURL(ctx, bucket, path)
	if err != nil {
		return nil, err
	}
	return &UploadResult{
		UploadURL: signed,
		PublicURL: fmt.Sprintf("%s/storage/v1/object/public/%s/%s", strings.TrimRight(s.SupabaseURL, "/"), bucket, path),
		Path:      path,
	}, nil
}

func allowed(kind Kind, ext string) bool {
	for _, e := range extensions[kind] {
		if e == ext {
			return true
		}
	}
	return false
}
