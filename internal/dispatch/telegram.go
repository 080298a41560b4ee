package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/k1networth/ugc-offers/internal/shared/retry"
	"github.com/k1networth/ugc-offers/internal/user"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramError is a non-ok Bot API reply.
type TelegramError struct {
	Code        int
	Description string
}

func (e *TelegramError) Error() string {
	return fmt.Sprintf("telegram: %d %s", e.Code, e.Description)
}

type TelegramSender struct {
	base   string
	client *http.Client
}

// NewTelegramSender talks to the Bot API at apiURL (empty means the public
// endpoint). A nil client gets a 10s timeout.
func NewTelegramSender(token, apiURL string, client *http.Client) *TelegramSender {
	if apiURL == "" {
		apiURL = defaultTelegramAPI
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TelegramSender{
		base:   strings.TrimRight(apiURL, "/") + "/bot" + token,
		client: client,
	}
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      int64        `json:"chat_id"`
	Text        string       `json:"text"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func (s *TelegramSender) SendOffer(ctx context.Context, to user.User, offer Offer) error {
	chatID, err := strconv.ParseInt(to.ExternalID, 10, 64)
	if err != nil {
		return retry.Permanent(fmt.Errorf("bad chat id %q: %w", to.ExternalID, err))
	}

	if err := s.sendMessage(ctx, sendMessageRequest{
		ChatID: chatID,
		Text:   offer.Text,
		ReplyMarkup: &replyMarkup{InlineKeyboard: [][]inlineButton{{
			{Text: offer.ButtonText, CallbackData: offer.CallbackData},
		}}},
	}); err != nil {
		return err
	}
	if offer.Warning == "" {
		return nil
	}
	return s.sendMessage(ctx, sendMessageRequest{ChatID: chatID, Text: offer.Warning})
}

func (s *TelegramSender) sendMessage(ctx context.Context, msg sendMessageRequest) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal message: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return fmt.Errorf("telegram response (%d): %w", resp.StatusCode, err)
	}
	if out.OK {
		return nil
	}

	terr := &TelegramError{Code: out.ErrorCode, Description: out.Description}
	if terr.Code == 0 {
		terr.Code = resp.StatusCode
	}
	// Blocked bot, unknown chat and similar 4xx replies will not heal on retry.
	if terr.Code >= 400 && terr.Code < 500 && terr.Code != http.StatusTooManyRequests {
		return retry.Permanent(terr)
	}
	return terr
}
