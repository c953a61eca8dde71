// Package ingest turns decoded scanner findings into deduplicated
// vulnerabilities.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go-easm/models"
)

// Store persists vulnerabilities.
type Store interface {
	// UpsertVulnerability inserts v when no row shares its asset and
	// fingerprint, and otherwise increments the occurrences of the existing
	// row and moves its last-seen marker to v.LastSeenAt and v.LastScanID.
	// The whole operation is atomic. On insert, v.ID is set.
	UpsertVulnerability(ctx context.Context, v *models.Vulnerability) (created bool, err error)
}

// Result summarizes one ingestion pass.
type Result struct {
	Created []models.Vulnerability // rows inserted by this pass
	Seen    int                    // distinct fingerprints processed
}

// Ingester defines the finding ingestion pipeline.
type Ingester struct {
	store Store
	now   func() time.Time
}

// New returns a new *Ingester writing to store.
func New(store Store) *Ingester {
	return &Ingester{store: store, now: time.Now}
}

// Ingest upserts the findings of scan against its asset. Findings sharing a
// fingerprint within the same pass count as one occurrence.
func (i *Ingester) Ingest(ctx context.Context, scan *models.Scan, findings []models.Finding) (*Result, error) {
	now := i.now().UTC()
	seen := make(map[string]struct{}, len(findings))
	res := &Result{}

	for _, f := range findings {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		v := NewVulnerability(f, scan.AssetID, scan.ID, now)
		if _, dup := seen[v.Fingerprint]; dup {
			continue
		}
		seen[v.Fingerprint] = struct{}{}

		created, err := i.store.UpsertVulnerability(ctx, &v)
		if err != nil {
			return res, fmt.Errorf("upsert %s at %s: %w", f.TemplateID, f.MatchedAt, err)
		}
		if created {
			res.Created = append(res.Created, v)
		}
	}
	res.Seen = len(seen)

	logrus.WithField("scan_id", scan.ID).Infof("Ingested %d findings: %d new vulnerabilities, %d distinct", len(findings), len(res.Created), res.Seen)
	return res, nil
}
