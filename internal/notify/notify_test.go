package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventOutcomeResolved, " withdrawal ", "bogus"}, testLogger())

	require.NoError(t, n.Send(context.Background(), Alert{Event: EventStakeFailed, Title: "ignored"}))
	require.NoError(t, n.Send(context.Background(), Alert{Event: EventOutcomeResolved, Title: "kept"}))
	require.NoError(t, n.Send(context.Background(), Withdrawal("1", "confirmed")))
	require.Equal(t, []string{"kept", "Treasury withdrawal confirmed"}, s.titles)
	require.False(t, n.Allows("bogus"))
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	require.NoError(t, n.Send(context.Background(), Withdrawal("0.5", "confirmed")))
	require.Equal(t, []string{"Treasury withdrawal confirmed"}, s.titles)
	require.True(t, n.Enabled())
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	down := errors.New("down")
	bad := &recordingSender{name: "bad", err: down}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Send(context.Background(), Alert{Event: EventClaimFailed, Title: "t", Message: "m"})
	require.ErrorIs(t, err, down)
	require.Contains(t, err.Error(), "bad: down")
	require.Len(t, good.titles, 1)
}

func TestNotifierNilDisabled(t *testing.T) {
	var n *Notifier
	require.False(t, n.Enabled())
	require.NoError(t, n.Send(context.Background(), Withdrawal("1", "failed")))
	require.False(t, NewNotifier(nil, nil, testLogger()).Enabled())
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42").WithAPIBase(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "Chest <opened>", "Prize: 0.04 ETH & more"))
	require.Equal(t, "/bottok/sendMessage", path)
	require.Equal(t, "42", got["chat_id"])
	require.Equal(t, "HTML", got["parse_mode"])
	require.Equal(t, "<b>Chest &lt;opened&gt;</b>\nPrize: 0.04 ETH &amp; more", got["text"])
}

func TestTelegramSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewTelegramSender("tok", "42").WithAPIBase(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status 400")
}

func TestDiscordSenderTruncates(t *testing.T) {
	var got discordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Title", strings.Repeat("x", 3000)))
	require.Equal(t, discordUsername, got.Username)
	require.Len(t, []rune(got.Content), discordContentLimit)
	require.NotNil(t, got.AllowedMentions.Parse)
	require.Empty(t, got.AllowedMentions.Parse)
}

func TestOutcomeResolvedAlert(t *testing.T) {
	player := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	o := domain.Outcome{Player: player, Prize: big.NewInt(40_000_000_000_000_000)}

	a := OutcomeResolved(o, "0xabc", "")
	require.Equal(t, EventOutcomeResolved, a.Event)
	require.Contains(t, a.Message, "Prize: 0.04 ETH")
	require.Contains(t, a.Message, "Tx: 0xabc")

	a = OutcomeResolved(o, "0xabc", "https://basescan.org/tx/0xabc")
	require.Contains(t, a.Message, "https://basescan.org/tx/0xabc")
	require.NotContains(t, a.Message, "Tx: ")
}
