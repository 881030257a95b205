package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"matterlink.ai/internal/persistence/offsite"
)

// openOffsiteMirror returns nil unless MATTERLINK_OFFSITE is set.
func openOffsiteMirror(gridID string, logger *log.Logger) (*offsite.Mirror, error) {
	if !envBool("MATTERLINK_OFFSITE", false) {
		return nil, nil
	}
	endpoint := strings.TrimSpace(os.Getenv("MATTERLINK_OFFSITE_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("MATTERLINK_OFFSITE_BUCKET"))
	ak := strings.TrimSpace(os.Getenv("MATTERLINK_OFFSITE_ACCESS_KEY_ID"))
	sk := strings.TrimSpace(os.Getenv("MATTERLINK_OFFSITE_SECRET_ACCESS_KEY"))
	if endpoint == "" || bucket == "" || ak == "" || sk == "" {
		return nil, fmt.Errorf("MATTERLINK_OFFSITE=true but endpoint/bucket/credentials are not fully set")
	}
	b, err := offsite.NewBucket(endpoint, bucket, ak, sk)
	if err != nil {
		return nil, err
	}
	if region := strings.TrimSpace(os.Getenv("MATTERLINK_OFFSITE_REGION")); region != "" {
		b.Region = region
	}
	return offsite.NewMirror(b, envString("MATTERLINK_OFFSITE_PREFIX", ""), gridID, 16, logger), nil
}
