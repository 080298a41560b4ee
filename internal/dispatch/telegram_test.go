package dispatch_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/k1networth/ugc-offers/internal/dispatch"
	"github.com/k1networth/ugc-offers/internal/order/model"
	"github.com/k1networth/ugc-offers/internal/shared/retry"
	"github.com/k1networth/ugc-offers/internal/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type botAPI struct {
	mu       sync.Mutex
	paths    []string
	requests []map[string]any
	status   int
	reply    string
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	b.mu.Lock()
	b.paths = append(b.paths, r.URL.Path)
	b.requests = append(b.requests, body)
	status, reply := b.status, b.reply
	b.mu.Unlock()

	if status == 0 {
		status, reply = http.StatusOK, `{"ok":true,"result":{}}`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(reply))
}

func testOffer() dispatch.Offer {
	return dispatch.Offer{
		OrderID:      "o-1",
		Text:         "Новый оффер",
		ButtonText:   "Готов снять UGC",
		CallbackData: "offer:o-1",
		Warning:      dispatch.SafetyWarning,
	}
}

func TestTelegramSenderSendsOfferThenWarning(t *testing.T) {
	api := &botAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	s := dispatch.NewTelegramSender("TOKEN", srv.URL, srv.Client())
	err := s.SendOffer(context.Background(), user.User{ID: uuid.New(), ExternalID: "4242"}, testOffer())
	require.NoError(t, err)

	require.Len(t, api.requests, 2)
	assert.Equal(t, []string{"/botTOKEN/sendMessage", "/botTOKEN/sendMessage"}, api.paths)

	first := api.requests[0]
	assert.Equal(t, float64(4242), first["chat_id"])
	assert.Equal(t, "Новый оффер", first["text"])
	markup := first["reply_markup"].(map[string]any)
	button := markup["inline_keyboard"].([]any)[0].([]any)[0].(map[string]any)
	assert.Equal(t, "offer:o-1", button["callback_data"])

	assert.Equal(t, dispatch.SafetyWarning, api.requests[1]["text"])
	assert.NotContains(t, api.requests[1], "reply_markup")
}

func TestTelegramSenderClassifiesErrors(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		reply     string
		permanent bool
	}{
		{"blocked", http.StatusForbidden, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`, true},
		{"rate limited", http.StatusTooManyRequests, `{"ok":false,"error_code":429,"description":"Too Many Requests"}`, false},
		{"server", http.StatusBadGateway, `{"ok":false,"error_code":502,"description":"Bad Gateway"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &botAPI{status: tc.status, reply: tc.reply}
			srv := httptest.NewServer(api)
			t.Cleanup(srv.Close)

			s := dispatch.NewTelegramSender("TOKEN", srv.URL, srv.Client())
			err := s.SendOffer(context.Background(), user.User{ExternalID: "1"}, testOffer())

			var terr *dispatch.TelegramError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tc.status, terr.Code)
			assert.Equal(t, tc.permanent, retry.IsPermanent(err))
			assert.Len(t, api.requests, 1, "warning is not sent after a failed offer")
		})
	}
}

func TestTelegramSenderRejectsNonNumericChat(t *testing.T) {
	s := dispatch.NewTelegramSender("TOKEN", "http://127.0.0.1:1", nil)
	err := s.SendOffer(context.Background(), user.User{ExternalID: "@name"}, testOffer())
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
}

func TestDispatchRetriesTelegramTimeouts(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	f := newFixture(t)
	blogger := f.addUser("201", user.RoleBlogger, user.StatusActive)
	o := f.addOrder(t, model.StatusActive, 1)

	sender := dispatch.NewTelegramSender("TOKEN", srv.URL, &http.Client{Timeout: 50 * time.Millisecond})
	d := dispatch.NewDispatcher(f.orders, f.users, sender, f.dlq, f.log, dispatch.Config{
		Retry: retry.Policy{MaxAttempts: 3},
	})

	res, err := d.Dispatch(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)

	mu.Lock()
	assert.Equal(t, 3, hits, "a client timeout is transient and must be retried")
	mu.Unlock()
	require.Len(t, f.dlq.msgs, 1)
	assert.Equal(t, blogger.ID.String(), f.dlq.msgs[0].RecipientID)
}
