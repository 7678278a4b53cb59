package activitypub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/loxodon/domain"
)

// HTTPSender delivers activities to remote inboxes, signed with the
// sending account's key.
type HTTPSender struct {
	Client    *http.Client
	UserAgent string
}

func NewHTTPSender(userAgent string) *HTTPSender {
	return &HTTPSender{
		Client:    &http.Client{Timeout: 30 * time.Second},
		UserAgent: userAgent,
	}
}

func (s *HTTPSender) SendActivity(ctx context.Context, from *domain.Account, toInbox string, activity any) error {
	if !from.IsInternal() {
		return fmt.Errorf("cannot deliver on behalf of external account %q", from.Username)
	}

	privateKey, err := ParsePrivateKey(from.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	body, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to encode activity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", toInbox, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", s.UserAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	digest := sha256.Sum256(body)
	req.Header.Set("Digest", "SHA-256="+base64.StdEncoding.EncodeToString(digest[:]))

	keyID := from.ApId + "#main-key"
	if err := SignRequest(req, privateKey, keyID); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	return nil
}
