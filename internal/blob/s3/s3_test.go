package s3blob

import (
	"bytes"
	"context"
	"io"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurechest/internal/config"
	"github.com/alanyoungcy/treasurechest/internal/domain"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[path] = b
	m.puts++
	return nil
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type memStore struct {
	domain.OutcomeStore
	events []domain.OutcomeEvent
}

func (s *memStore) ListBefore(_ context.Context, before time.Time) ([]domain.OutcomeEvent, error) {
	var out []domain.OutcomeEvent
	for _, e := range s.events {
		if e.Time().Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

type memAudit struct {
	domain.AuditStore
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func outcome(tx string, ts int64) domain.OutcomeEvent {
	return domain.OutcomeEvent{
		Player:      common.HexToAddress("0xaa"),
		Amount:      big.NewInt(15_000_000_000_000_000),
		Timestamp:   ts,
		BlockNumber: 10,
		TxHash:      common.HexToHash(tx),
	}
}

func TestArchivePath(t *testing.T) {
	cutoff := time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "history/2025/01/31/outcomes-1738281600.jsonl", archivePath(cutoff))
}

func TestArchiveOutcomes(t *testing.T) {
	cutoff := time.Unix(2_000, 0)
	blob := &memBlob{}
	store := &memStore{events: []domain.OutcomeEvent{outcome("0x01", 1_000), outcome("0x02", 1_500), outcome("0x03", 3_000)}}
	audit := &memAudit{}
	a := NewArchiver(blob, blob, store, audit)

	n, err := a.ArchiveOutcomes(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.Equal(t, []string{"archive.outcomes"}, audit.events)

	body := string(blob.objects[archivePath(cutoff)])
	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"amountEther":"0.015"`)

	n, err = a.ArchiveOutcomes(context.Background(), cutoff)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, 1, blob.puts)
}

func TestArchiveOutcomesNothingToDo(t *testing.T) {
	blob := &memBlob{}
	a := NewArchiver(blob, blob, &memStore{}, nil)
	n, err := a.ArchiveOutcomes(context.Background(), time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, blob.puts)
}

func TestNormaliseEndpoint(t *testing.T) {
	require.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	require.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	require.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}

func TestS3Options(t *testing.T) {
	require.Empty(t, s3Options(config.S3Config{}))
	require.Len(t, s3Options(config.S3Config{Endpoint: "minio:9000", ForcePathStyle: true}), 2)
}
