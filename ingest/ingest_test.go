package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-easm/fingerprint"
	"go-easm/models"
)

type rowKey struct {
	asset uint
	fp    string
}

type memStore struct {
	mu     sync.Mutex
	nextID uint
	rows   map[rowKey]*models.Vulnerability
	err    error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[rowKey]*models.Vulnerability)}
}

func (s *memStore) UpsertVulnerability(_ context.Context, v *models.Vulnerability) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return false, s.err
	}
	key := rowKey{v.AssetID, v.Fingerprint}
	if row, ok := s.rows[key]; ok {
		row.Occurrences++
		row.LastSeenAt = v.LastSeenAt
		row.LastScanID = v.LastScanID
		return false, nil
	}
	s.nextID++
	v.ID = s.nextID
	cp := *v
	s.rows[key] = &cp
	return true, nil
}

func finding(templateID, matchedAt, severity string) models.Finding {
	return models.Finding{
		TemplateID:   templateID,
		TemplatePath: "/t/" + templateID + ".yaml",
		Info: models.FindingInfo{
			Name:     templateID,
			Severity: severity,
			Tags:     []string{"cve-2021-44228"},
		},
		Type:      "http",
		Host:      "https://example.com",
		MatchedAt: matchedAt,
		Timestamp: "2024-01-01T00:00:00Z",
	}
}

func fixedIngester(store Store, at time.Time) *Ingester {
	i := New(store)
	i.now = func() time.Time { return at }
	return i
}

func TestIngest_CreatesThenIncrements(t *testing.T) {
	store := newMemStore()
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	findings := []models.Finding{
		finding("a", "https://example.com/a", "high"),
		finding("b", "https://example.com/b", "low"),
	}

	res, err := fixedIngester(store, t1).Ingest(context.Background(), &models.Scan{ID: 1, AssetID: 7}, findings)
	require.NoError(t, err)
	require.Len(t, res.Created, 2)
	assert.Equal(t, 2, res.Seen)

	v := res.Created[0]
	assert.Equal(t, models.StateNew, v.State)
	assert.Equal(t, 1, v.Occurrences)
	assert.Equal(t, t1, v.FirstSeenAt)
	assert.Equal(t, t1, v.LastSeenAt)
	assert.Equal(t, fingerprint.Compute("a", "https://example.com/a"), v.Fingerprint)
	assert.Equal(t, models.SeverityHigh, v.Severity)
	assert.Equal(t, []string{"CVE-2021-44228"}, v.CVEIDs)

	t2 := t1.Add(24 * time.Hour)
	res, err = fixedIngester(store, t2).Ingest(context.Background(), &models.Scan{ID: 2, AssetID: 7}, findings[:1])
	require.NoError(t, err)
	assert.Empty(t, res.Created)

	row := store.rows[rowKey{7, v.Fingerprint}]
	assert.Equal(t, 2, row.Occurrences)
	assert.Equal(t, t1, row.FirstSeenAt)
	assert.Equal(t, t2, row.LastSeenAt)
	assert.Equal(t, uint(1), row.ScanID)
	assert.Equal(t, uint(2), row.LastScanID)
}

func TestIngest_DuplicateWithinScan(t *testing.T) {
	store := newMemStore()
	f := finding("a", "https://example.com/a", "high")

	res, err := New(store).Ingest(context.Background(), &models.Scan{ID: 1, AssetID: 1}, []models.Finding{f, f})
	require.NoError(t, err)
	assert.Len(t, res.Created, 1)
	assert.Equal(t, 1, res.Seen)
	assert.Equal(t, 1, store.rows[rowKey{1, res.Created[0].Fingerprint}].Occurrences)
}

func TestIngest_SameFindingOtherAsset(t *testing.T) {
	store := newMemStore()
	f := finding("a", "https://example.com/a", "high")

	res, err := New(store).Ingest(context.Background(), &models.Scan{ID: 1, AssetID: 1}, []models.Finding{f})
	require.NoError(t, err)
	assert.Len(t, res.Created, 1)

	res, err = New(store).Ingest(context.Background(), &models.Scan{ID: 2, AssetID: 2}, []models.Finding{f})
	require.NoError(t, err)
	assert.Len(t, res.Created, 1)
}

func TestIngest_StoreError(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("disk full")

	_, err := New(store).Ingest(context.Background(), &models.Scan{ID: 1, AssetID: 1}, []models.Finding{finding("a", "x", "low")})
	assert.ErrorContains(t, err, "disk full")
}

func TestNewVulnerability_Metadata(t *testing.T) {
	f := finding("a", "https://example.com/a", "unknown")
	f.MatcherName = "word"
	f.IP = "93.184.216.34"

	v := NewVulnerability(f, 3, 9, time.Unix(0, 0))

	assert.Equal(t, models.SeverityMedium, v.Severity)
	assert.Equal(t, uint(9), v.ScanID)
	assert.Equal(t, uint(9), v.LastScanID)
	assert.Equal(t, "word", v.Metadata["matcher_name"])
	assert.Equal(t, "93.184.216.34", v.Metadata["ip"])
	assert.Equal(t, map[string]any{}, v.Metadata["classification"])
}
