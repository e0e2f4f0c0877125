package client

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"

	httperrors "github.com/nczempin/rawhttp-msgclient/errors"
	"github.com/nczempin/rawhttp-msgclient/protocol"
)

const (
	MessagesPath    = "/messages"
	MessageEditPath = "/messages/message"
)

// NewMessage is the POST /messages payload.
type NewMessage struct {
	ClientIP string `json:"client_ip"`
	Message  string `json:"message"`
}

// MessageUpdate is the PATCH /messages/message payload.
type MessageUpdate struct {
	MessageID      string `json:"messageId"`
	UpdatedMessage string `json:"updatedMessage"`
}

// Message is a message as returned by the server. Servers spell the keys
// either way (id/messageId, client_ip/clientIp, message/messageText).
type Message struct {
	ID       string
	ClientIP string
	Text     string
}

// PostMessage stores text on the server, tagged with the client's local IP.
func (c *HttpClient) PostMessage(ctx context.Context, text string) (*protocol.HttpResponse, error) {
	return c.Post(ctx, MessagesPath, NewMessage{ClientIP: c.LocalIP(), Message: text})
}

// ListMessages fetches every stored message.
func (c *HttpClient) ListMessages(ctx context.Context) (*protocol.HttpResponse, error) {
	return c.Get(ctx, MessagesPath)
}

// UpdateMessage replaces the text of the message with the given id.
func (c *HttpClient) UpdateMessage(ctx context.Context, id, text string) (*protocol.HttpResponse, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, httperrors.NewHttpError(httperrors.InvalidRequest, fmt.Errorf("message id %q: %w", id, err))
	}
	return c.Patch(ctx, MessageEditPath, MessageUpdate{MessageID: id, UpdatedMessage: text})
}

// MessageFromMap picks the message fields out of a decoded JSON object.
func MessageFromMap(m map[string]any) Message {
	return Message{
		ID:       pick(m, "id", "messageId"),
		ClientIP: pick(m, "client_ip", "clientIp"),
		Text:     pick(m, "message", "messageText"),
	}
}

func pick(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case nil:
		case string:
			if v != "" {
				return v
			}
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

// DecodeMessages decodes a JSON array of messages.
func DecodeMessages(body []byte) ([]Message, error) {
	var items []map[string]any
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(items))
	for _, item := range items {
		out = append(out, MessageFromMap(item))
	}
	return out, nil
}

// DecodeMessage decodes a single JSON message object.
func DecodeMessage(body []byte) (Message, error) {
	var item map[string]any
	if err := json.Unmarshal(body, &item); err != nil {
		return Message{}, err
	}
	if item == nil {
		return Message{}, fmt.Errorf("not a JSON object")
	}
	return MessageFromMap(item), nil
}
