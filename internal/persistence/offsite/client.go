// Package offsite copies finished snapshot files to an S3-compatible bucket
// (Cloudflare R2, MinIO, AWS) so a lost host can resume from the last
// uploaded tick.
package offsite

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

const (
	sigAlgorithm = "AWS4-HMAC-SHA256"
	sigService   = "s3"
)

// Bucket is a path-style S3 endpoint plus credentials.
type Bucket struct {
	Endpoint  string
	Name      string
	Region    string // "auto" for R2
	AccessKey string
	SecretKey string

	HTTP *http.Client
	now  func() time.Time
}

func NewBucket(endpoint, name, accessKey, secretKey string) (*Bucket, error) {
	endpoint = strings.TrimSpace(endpoint)
	name = strings.TrimSpace(name)
	if endpoint == "" || name == "" || strings.TrimSpace(accessKey) == "" || strings.TrimSpace(secretKey) == "" {
		return nil, fmt.Errorf("endpoint, bucket and credentials are required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q", endpoint)
	}
	return &Bucket{
		Endpoint:  strings.TrimRight(u.String(), "/"),
		Name:      name,
		Region:    "auto",
		AccessKey: strings.TrimSpace(accessKey),
		SecretKey: strings.TrimSpace(secretKey),
		HTTP:      &http.Client{Timeout: 2 * time.Minute},
		now:       time.Now,
	}, nil
}

// Put uploads the file at localPath under key with a SigV4-signed PUT.
func (b *Bucket) Put(ctx context.Context, key, localPath string) error {
	key = cleanKey(key)
	if key == "" {
		return fmt.Errorf("bad object key")
	}
	body, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])

	uri := "/" + b.Name + "/" + escapeKey(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.Endpoint+uri, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", "application/zstd")
	b.sign(req, uri, payloadHash)

	resp, err := b.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("put %s: status %d: %s", key, resp.StatusCode, strings.TrimSpace(string(msg)))
}

func (b *Bucket) sign(req *http.Request, uri, payloadHash string) {
	now := time.Now
	if b.now != nil {
		now = b.now
	}
	t := now().UTC()
	amzDate := t.Format("20060102T150405Z")
	day := t.Format("20060102")
	region := b.Region
	if region == "" {
		region = "auto"
	}

	host := req.URL.Host
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", amzDate)

	const signed = "host;x-amz-content-sha256;x-amz-date"
	canonical := strings.Join([]string{
		req.Method,
		uri,
		"",
		"host:" + host + "\nx-amz-content-sha256:" + payloadHash + "\nx-amz-date:" + amzDate + "\n",
		signed,
		payloadHash,
	}, "\n")
	scope := day + "/" + region + "/" + sigService + "/aws4_request"
	crSum := sha256.Sum256([]byte(canonical))
	toSign := sigAlgorithm + "\n" + amzDate + "\n" + scope + "\n" + hex.EncodeToString(crSum[:])

	key := mac([]byte("AWS4"+b.SecretKey), day)
	key = mac(key, region)
	key = mac(key, sigService)
	key = mac(key, "aws4_request")
	sig := hex.EncodeToString(mac(key, toSign))

	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		sigAlgorithm, b.AccessKey, scope, signed, sig))
}

func mac(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write([]byte(data))
	return h.Sum(nil)
}

func cleanKey(key string) string {
	key = strings.TrimPrefix(strings.TrimSpace(strings.ReplaceAll(key, "\\", "/")), "/")
	if key == "" {
		return ""
	}
	c := strings.TrimPrefix(path.Clean("/"+key), "/")
	if c == "" || c == "." {
		return ""
	}
	return c
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
