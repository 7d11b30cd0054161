package telegram

import (
	"strings"

	"github.com/onnwee/tweet-tender/dispatch"
)

// ParseCommand turns a message's text into a typed command, reporting whether the
// text was a slash command at all. URL-and-text commands are split here so the
// dispatcher receives separate fields.
func ParseCommand(text string) (dispatch.Command, bool) {
	cmd, rest := splitCommand(text)
	cmd = normalizeSlashCommand(cmd)
	if cmd == "" {
		return dispatch.Command{}, false
	}

	switch cmd {
	case "/help", "/start":
		return dispatch.Command{Kind: dispatch.KindHelp}, true
	case "/authenticate", "/auth":
		return dispatch.Command{Kind: dispatch.KindAuthenticate}, true
	case "/logout":
		return dispatch.Command{Kind: dispatch.KindLogout}, true
	case "/account":
		return dispatch.Command{Kind: dispatch.KindAccount}, true
	case "/tweet":
		return dispatch.Command{Kind: dispatch.KindTweet, Text: rest}, true
	case "/like":
		return dispatch.Command{Kind: dispatch.KindLike, TweetURL: rest}, true
	case "/retweet":
		return dispatch.Command{Kind: dispatch.KindRetweet, TweetURL: rest}, true
	case "/reply":
		tweetURL, text := splitCommand(rest)
		return dispatch.Command{Kind: dispatch.KindReply, TweetURL: tweetURL, Text: text}, true
	case "/quote":
		tweetURL, text := splitCommand(rest)
		return dispatch.Command{Kind: dispatch.KindQuote, TweetURL: tweetURL, Text: text}, true
	default:
		return dispatch.Command{}, false
	}
}

func splitCommand(text string) (cmd string, rest string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	i := strings.IndexAny(text, " \n\t")
	if i == -1 {
		return text, ""
	}
	return text[:i], strings.TrimSpace(text[i:])
}

func normalizeSlashCommand(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" || !strings.HasPrefix(cmd, "/") {
		return ""
	}
	// Allow "/cmd@BotName" variants by stripping "@...".
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd)
}
