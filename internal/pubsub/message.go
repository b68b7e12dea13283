package pubsub

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rivernews/slack-middleware-server/internal/model"
)

type MessageType string

const (
	TypePreflight MessageType = "preflight"
	TypeProgress  MessageType = "progress"
	TypeFinish    MessageType = "finish"
	TypeError     MessageType = "error"
	TypeTerminate MessageType = "terminate"
)

func (t MessageType) Known() bool {
	switch t {
	case TypePreflight, TypeProgress, TypeFinish, TypeError, TypeTerminate:
		return true
	}
	return false
}

type Destination string

const (
	ToScraper Destination = "scraper"
	ToService Destination = "slackMiddlewareService"
	ToAll     Destination = "all"
)

// SuccessSentinel is the FINISH payload of a worker done in one session.
const SuccessSentinel = "OK!"

// Message is the colon delimited wire message `type:destination:payload`.
type Message struct {
	Type        MessageType
	Destination Destination
	Payload     string
}

func (m Message) String() string {
	return string(m.Type) + ":" + string(m.Destination) + ":" + m.Payload
}

// ForService reports whether the middleware is an addressee.
func (m Message) ForService() bool {
	return m.Destination == ToService || m.Destination == ToAll
}

// Parse splits on the first two colons only, the payload keeps its own.
func Parse(raw string) (Message, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Message{}, fmt.Errorf("%w: malformed message %q", model.ErrProtocolViolation, raw)
	}
	return Message{
		Type:        MessageType(parts[0]),
		Destination: Destination(parts[1]),
		Payload:     parts[2],
	}, nil
}

// ChannelName builds `<prefix>:<org>:<session>`.
func ChannelName(prefix, org string, session int) string {
	return prefix + ":" + org + ":" + strconv.Itoa(session)
}

// NextChannelName bumps the trailing session counter of name, a name
// without a counter gets session 1.
func NextChannelName(name string) string {
	i := strings.LastIndex(name, ":")
	if i >= 0 {
		if n, err := strconv.Atoi(name[i+1:]); err == nil {
			return name[:i+1] + strconv.Itoa(n+1)
		}
	}
	return name + ":1"
}
