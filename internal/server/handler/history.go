package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/treasurechest/internal/domain"
	"github.com/alanyoungcy/treasurechest/internal/history"
)

// HistorySource is the aggregated outcome history.
type HistorySource interface {
	FilterByTier(name string) []domain.OutcomeEvent
	Status() history.Status
}

// HistoryHandler serves the paged, tier-filtered history.
type HistoryHandler struct {
	source      HistorySource
	pageSize    int
	explorerURL string
	usd         USDConverter
	now         func() time.Time
	logger      *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler. usd may be nil.
func NewHistoryHandler(source HistorySource, pageSize int, explorerURL string, usd USDConverter, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		source:      source,
		pageSize:    pageSize,
		explorerURL: explorerURL,
		usd:         usd,
		now:         time.Now,
		logger:      logHandler(logger, "history"),
	}
}

type historyRecord struct {
	TxHash      string `json:"txHash"`
	Player      string `json:"player"`
	PlayerShort string `json:"playerShort"`
	AmountWei   string `json:"amountWei"`
	AmountEther string `json:"amountEther"`
	AmountUSD   string `json:"amountUsd,omitempty"`
	Tier        string `json:"tier"`
	BlockNumber uint64 `json:"blockNumber"`
	Timestamp   int64  `json:"timestamp"`
	Age         string `json:"age"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
}

type historyResponse struct {
	Tier        string          `json:"tier"`
	Page        int             `json:"page"`
	PageSize    int             `json:"pageSize"`
	TotalPages  int             `json:"totalPages"`
	Total       int             `json:"total"`
	Window      []int           `json:"window"`
	Records     []historyRecord `json:"records"`
	LastRefresh time.Time       `json:"lastRefresh"`
	LastError   string          `json:"lastError,omitempty"`
}

// ListHistory returns one page of outcomes for a tier. Window lists the
// pager's page numbers with 0 marking an ellipsis.
// GET /api/history?tier=Rare&page=2
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	tierName := r.URL.Query().Get("tier")
	if tierName == "" {
		tierName = history.AllTiers
	}
	tier, ok := history.LookupTier(tierName)
	if !ok {
		writeDomainError(w, r, h.logger, "list history", fmt.Errorf("%w: %q", domain.ErrUnknownTier, tierName))
		return
	}
	page, ok := parsePage(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}

	events := h.source.FilterByTier(tier.Name)
	total := history.TotalPages(len(events), h.pageSize)
	now := h.now()

	records := []historyRecord{}
	for _, e := range history.Paginate(events, h.pageSize, page) {
		records = append(records, h.record(e, now))
	}

	status := h.source.Status()
	writeJSON(w, http.StatusOK, historyResponse{
		Tier:        tier.Name,
		Page:        page,
		PageSize:    h.pageSize,
		TotalPages:  total,
		Total:       len(events),
		Window:      history.PageWindow(page, total),
		Records:     records,
		LastRefresh: status.LastRefresh,
		LastError:   status.LastError,
	})
}

func (h *HistoryHandler) record(e domain.OutcomeEvent, now time.Time) historyRecord {
	rec := historyRecord{
		TxHash:      e.TxHash.Hex(),
		Player:      e.Player.Hex(),
		PlayerShort: history.ShortAddress(e.Player),
		AmountWei:   "0",
		AmountEther: e.Ether().String(),
		AmountUSD:   usdString(h.usd, e.Amount),
		Tier:        history.ClassifyEvent(e).Name,
		BlockNumber: e.BlockNumber,
		Timestamp:   e.Timestamp,
		Age:         history.TimeAgo(e.Time(), now),
	}
	if e.Amount != nil {
		rec.AmountWei = e.Amount.String()
	}
	if h.explorerURL != "" {
		rec.ExplorerURL = history.ExplorerTxURL(h.explorerURL, e.TxHash)
	}
	return rec
}

type tierResponse struct {
	Name     string `json:"name"`
	MinEther string `json:"minEther,omitempty"`
}

// ListTiers returns the filter names, "All" first then descending value.
// GET /api/history/tiers
func (h *HistoryHandler) ListTiers(w http.ResponseWriter, r *http.Request) {
	out := []tierResponse{}
	for _, name := range history.TierNames() {
		tr := tierResponse{Name: name}
		if t, ok := history.LookupTier(name); ok && name != history.AllTiers {
			tr.MinEther = t.Min.String()
		}
		out = append(out, tr)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": out})
}
