// Package alert sends operator notifications when a feed's answer
// updates or a deviation flag is raised.
package alert

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Notifier delivers alerts to a Telegram chat.
type Notifier struct {
	bot        *tgbotapi.BotAPI
	chatID     int64
	maxRetries int
	retryDelay time.Duration
}

// NewNotifier creates a Telegram notifier.
func NewNotifier(botToken, chatID string) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}
	return &Notifier{
		bot:        bot,
		chatID:     chatIDInt,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// AnswerUpdated reports a newly computed answer.
func (n *Notifier) AnswerUpdated(feed string, roundID uint32, answer *big.Int) {
	n.send(fmt.Sprintf("%s: round %d answered %s", feed, roundID, answer.String()))
}

// FlagRaised reports a deviation flag.
func (n *Notifier) FlagRaised(subject string) {
	n.send(fmt.Sprintf("deviation flag raised on %s", subject))
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)

	var lastErr error
	for i := 0; i < n.maxRetries; i++ {
		if _, err := n.bot.Send(msg); err == nil {
			return
		} else {
			lastErr = err
		}
		time.Sleep(n.retryDelay * time.Duration(i+1))
	}
	logrus.Warnf("Failed to send Telegram alert after %d retries: %v", n.maxRetries, lastErr)
}
