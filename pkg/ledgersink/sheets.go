package ledgersink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/docledger/docledger/pkg/retrypolicy"
	"github.com/docledger/docledger/pkg/validate"
)

const sheetsBaseURL = "https://sheets.googleapis.com"

// serviceAccountKey is the relevant subset of a Google service-account
// JSON key file.
type serviceAccountKey struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// SheetsSink appends one row per ledger record to a Google Sheets range
// over REST. Authentication is the RS256 JWT bearer grant of the
// service account; dedup scans the file-hash column once and caches the
// seen set for the sink's lifetime.
type SheetsSink struct {
	spreadsheetID string
	appendRange   string
	key           serviceAccountKey
	baseURL       string
	httpClient    *http.Client
	breaker       *retrypolicy.Breaker
	clock         func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
	seenHashes  map[string]bool
}

// NewSheetsSink loads the service-account key file and prepares the sink.
func NewSheetsSink(spreadsheetID, appendRange, keyFile string) (*SheetsSink, error) {
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("ledgersink: read service account file: %w", err)
	}
	var key serviceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("ledgersink: parse service account file: %w", err)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, fmt.Errorf("ledgersink: service account file lacks client_email or private_key")
	}
	if key.TokenURI == "" {
		key.TokenURI = "https://oauth2.googleapis.com/token"
	}
	return &SheetsSink{
		spreadsheetID: spreadsheetID,
		appendRange:   appendRange,
		key:           key,
		baseURL:       sheetsBaseURL,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		breaker:       retrypolicy.NewBreaker("sheets", 5, time.Minute),
		clock:         time.Now,
	}, nil
}

// WithBaseURL redirects the Sheets API endpoint. For testing.
func (s *SheetsSink) WithBaseURL(base string) *SheetsSink {
	s.baseURL = base
	return s
}

func (s *SheetsSink) Append(ctx context.Context, record validate.CanonicalRecord, meta Metadata) (AppendResult, error) {
	if !s.breaker.Allow() {
		return AppendResult{}, fmt.Errorf("ledgersink: sheets circuit open")
	}
	result, err := s.append(ctx, record, meta)
	if err != nil {
		s.breaker.Failure()
		return AppendResult{}, err
	}
	s.breaker.Success()
	return result, nil
}

func (s *SheetsSink) append(ctx context.Context, record validate.CanonicalRecord, meta Metadata) (AppendResult, error) {
	seen, err := s.hashSeen(ctx, meta.FileHash)
	if err != nil {
		return AppendResult{}, err
	}
	if seen {
		return AppendResult{Status: StatusSkippedDuplicate}, nil
	}

	row := []any{
		record.InvoiceDate,
		record.VendorName,
		record.DocumentType,
		record.Currency,
		record.Subtotal,
		record.TaxAmount,
		record.TotalAmount,
		record.PaymentMethod,
		meta.ValidationScore,
		meta.NeedsReview,
		meta.Provider,
		meta.DocumentID,
		meta.SourceID,
		meta.FileHash,
	}
	body := map[string]any{"values": [][]any{row}}
	endpoint := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s:append?valueInputOption=RAW&insertDataOption=INSERT_ROWS",
		s.baseURL, s.spreadsheetID, url.PathEscape(s.appendRange))

	var response struct {
		Updates struct {
			UpdatedRange string `json:"updatedRange"`
		} `json:"updates"`
	}
	if err := s.doJSON(ctx, http.MethodPost, endpoint, body, &response); err != nil {
		return AppendResult{}, err
	}

	s.mu.Lock()
	if s.seenHashes != nil {
		s.seenHashes[meta.FileHash] = true
	}
	s.mu.Unlock()
	return AppendResult{Status: StatusAppended, RowRef: response.Updates.UpdatedRange}, nil
}

// hashSeen lazily loads the file-hash column (the last column of each
// appended row) and answers membership from the cached set.
func (s *SheetsSink) hashSeen(ctx context.Context, hash string) (bool, error) {
	s.mu.Lock()
	cached := s.seenHashes
	s.mu.Unlock()
	if cached != nil {
		return cached[hash], nil
	}

	endpoint := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s",
		s.baseURL, s.spreadsheetID, url.PathEscape(s.appendRange))
	var response struct {
		Values [][]any `json:"values"`
	}
	if err := s.doJSON(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return false, err
	}
	seen := make(map[string]bool, len(response.Values))
	for _, row := range response.Values {
		if len(row) == 0 {
			continue
		}
		if h, ok := row[len(row)-1].(string); ok && h != "" {
			seen[h] = true
		}
	}
	s.mu.Lock()
	s.seenHashes = seen
	s.mu.Unlock()
	return seen[hash], nil
}

func (s *SheetsSink) doJSON(ctx context.Context, method, endpoint string, body any, out any) error {
	token, err := s.token(ctx)
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ledgersink: marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("ledgersink: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledgersink: sheets request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ledgersink: read sheets response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledgersink: sheets status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("ledgersink: decode sheets response: %w", err)
		}
	}
	return nil
}

// token returns a valid access token, exchanging a signed JWT assertion
// at the token endpoint when the cached one is missing or near expiry.
func (s *SheetsSink) token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.accessToken != "" && s.clock().Before(s.tokenExpiry.Add(-time.Minute)) {
		token := s.accessToken
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(s.key.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("ledgersink: parse private key: %w", err)
	}
	now := s.clock()
	assertion := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   s.key.ClientEmail,
		"scope": "https://www.googleapis.com/auth/spreadsheets",
		"aud":   s.key.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	signed, err := assertion.SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("ledgersink: sign assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {signed},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.key.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("ledgersink: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ledgersink: token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ledgersink: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ledgersink: token status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(payload, &tokenResp); err != nil {
		return "", fmt.Errorf("ledgersink: decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("ledgersink: token endpoint returned no access_token")
	}

	s.mu.Lock()
	s.accessToken = tokenResp.AccessToken
	s.tokenExpiry = now.Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	s.mu.Unlock()
	return tokenResp.AccessToken, nil
}
