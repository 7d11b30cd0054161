package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/onnwee/tweet-tender/dispatch"
)

// Gateway runs the long-poll loop: it pulls updates, parses commands, hands them
// to the dispatcher, and sends the reply back to the originating chat. Each update
// is handled in its own goroutine so a slow upstream call for one chat does not
// stall polling for the rest.
type Gateway struct {
	api         *API
	dispatcher  *dispatch.Dispatcher
	pollTimeout time.Duration
}

// NewGateway wires the gateway.
func NewGateway(api *API, d *dispatch.Dispatcher, pollTimeout time.Duration) *Gateway {
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	return &Gateway{api: api, dispatcher: d, pollTimeout: pollTimeout}
}

// Run polls until ctx is cancelled. It returns the verification error when the
// bot token is rejected at startup.
func (g *Gateway) Run(ctx context.Context) error {
	me, err := g.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("verify bot token: %w", err)
	}
	slog.Info("telegram gateway started", slog.String("bot", me.Username))

	var offset int64
	for {
		updates, next, err := g.api.GetUpdates(ctx, offset, g.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isPollTimeout(err) {
				continue
			}
			slog.Warn("getUpdates failed", slog.Any("err", err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}
		offset = next
		for _, u := range updates {
			if u.Message == nil || u.Message.Chat == nil {
				continue
			}
			go g.handleMessage(ctx, u.Message)
		}
	}
}

func (g *Gateway) handleMessage(ctx context.Context, msg *Message) {
	text := msg.Text
	if text == "" {
		// A photo with a command caption carries the command there.
		text = msg.Caption
	}
	cmd, ok := ParseCommand(text)
	if !ok {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	if len(msg.Photo) > 0 && isPublishing(cmd.Kind) {
		// The last photo size is the largest rendition.
		largest := msg.Photo[len(msg.Photo)-1]
		media, err := g.api.DownloadFile(ctx, largest.FileID, 0)
		if err != nil {
			slog.Warn("photo download failed", slog.String("chat_id", chatID), slog.Any("err", err))
			g.reply(ctx, msg.Chat.ID, "Failed to download the attached photo")
			return
		}
		cmd.Media = media
	}

	reply, err := g.dispatcher.Dispatch(ctx, chatID, cmd)
	if err != nil {
		slog.Warn("command failed",
			slog.String("chat_id", chatID),
			slog.String("kind", string(cmd.Kind)),
			slog.Any("err", err))
		reply = dispatch.UserMessage(err)
	}
	g.reply(ctx, msg.Chat.ID, reply)
}

func isPublishing(k dispatch.Kind) bool {
	return k == dispatch.KindTweet || k == dispatch.KindReply || k == dispatch.KindQuote
}

func (g *Gateway) reply(ctx context.Context, chatID int64, text string) {
	if err := g.api.SendMessage(ctx, chatID, text); err != nil {
		slog.Warn("sendMessage failed", slog.Int64("chat_id", chatID), slog.Any("err", err))
	}
}

// NotifyChat sends text to a chat identified by its decimal string id; used by the
// webhook receiver to confirm a completed authorization.
func (g *Gateway) NotifyChat(ctx context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse chat id %q: %w", chatID, err)
	}
	return g.api.SendMessage(ctx, id, text)
}
