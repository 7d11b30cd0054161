package dispatch

import "fmt"

// Kind identifies a chat command.
type Kind string

const (
	KindHelp         Kind = "help"
	KindAuthenticate Kind = "authenticate"
	KindLogout       Kind = "logout"
	KindAccount      Kind = "account"
	KindTweet        Kind = "tweet"
	KindLike         Kind = "like"
	KindRetweet      Kind = "retweet"
	KindReply        Kind = "reply"
	KindQuote        Kind = "quote"
)

// Command is a parsed chat command. The transport layer splits arguments into the
// typed fields: TweetURL carries the target tweet reference for like/retweet/reply/
// quote, Text carries the message body for tweet/reply/quote, Media carries the
// raw bytes of an attached photo, if any.
type Command struct {
	Kind     Kind
	Text     string
	TweetURL string
	Media    []byte
}

// HelpText lists every command the bot understands.
const HelpText = `Supported commands:

/help - Show this help message
/account - Get the currently linked account
/authenticate - Link an X account to this chat
/logout - Remove the linked account from this chat
/tweet <text> - Post a tweet
/like <tweet URL> - Like a tweet
/retweet <tweet URL> - Retweet a tweet
/reply <tweet URL> <text> - Reply to a tweet
/quote <tweet URL> <text> - Quote a tweet`

// usage returns the usage line for commands that take arguments.
func usage(k Kind) string {
	switch k {
	case KindTweet:
		return "Usage: /tweet <text>"
	case KindLike:
		return "Usage: /like <tweet URL>"
	case KindRetweet:
		return "Usage: /retweet <tweet URL>"
	case KindReply:
		return "Usage: /reply <tweet URL> <text>"
	case KindQuote:
		return "Usage: /quote <tweet URL> <text>"
	default:
		return fmt.Sprintf("Usage: /%s", k)
	}
}

// TweetRef extracts the tweet id from a tweet URL: the final /-delimited segment.
// A reference without any slash is taken as the id itself.
func TweetRef(tweetURL string) string {
	for i := len(tweetURL) - 1; i >= 0; i-- {
		if tweetURL[i] == '/' {
			return tweetURL[i+1:]
		}
	}
	return tweetURL
}
