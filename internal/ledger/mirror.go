package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MirrorClient reads topics through a mirror node's REST API.
// It implements TopicReader.
type MirrorClient struct {
	baseURL    string
	pageLimit  int
	httpClient *http.Client
}

// NewMirrorClient creates a mirror node REST client.
// pageLimit bounds the number of messages requested per page; values below 1
// fall back to 100.
func NewMirrorClient(baseURL string, pageLimit int, timeout time.Duration) *MirrorClient {
	if pageLimit < 1 {
		pageLimit = 100
	}
	return &MirrorClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		pageLimit:  pageLimit,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// mirrorMessage is the wire shape of a single topic message
type mirrorMessage struct {
	ConsensusTimestamp string `json:"consensus_timestamp"`
	TopicID            string `json:"topic_id"`
	PayerAccountID     string `json:"payer_account_id"`
	Message            string `json:"message"`
	ChunkInfo          *struct {
		InitialTransactionID string `json:"initial_transaction_id"`
		Number               int    `json:"number"`
		Total                int    `json:"total"`
	} `json:"chunk_info"`
}

// mirrorMessagePage is one page of the topic messages listing
type mirrorMessagePage struct {
	Messages []mirrorMessage `json:"messages"`
	Links    struct {
		Next string `json:"next"`
	} `json:"links"`
}

// TopicDescriptor fetches the first message on the topic and parses it as a
// topic descriptor payload.
func (c *MirrorClient) TopicDescriptor(ctx context.Context, id TopicID) (*TopicDescriptor, error) {
	path := fmt.Sprintf("/api/v1/topics/%s/messages?limit=1&order=asc", id)
	var page mirrorMessagePage
	if err := c.get(ctx, path, &page); err != nil {
		return nil, fmt.Errorf("failed to fetch descriptor for topic %s: %w", id, err)
	}
	if len(page.Messages) == 0 {
		return nil, fmt.Errorf("topic %s has no descriptor message", id)
	}

	payload, err := base64.StdEncoding.DecodeString(page.Messages[0].Message)
	if err != nil {
		return nil, fmt.Errorf("failed to decode descriptor payload for topic %s: %w", id, err)
	}
	if ParsePayloadType(payload) != PayloadTypeTopic {
		return nil, fmt.Errorf("first message on topic %s is not a topic descriptor", id)
	}

	var descriptor TopicDescriptor
	if err := json.Unmarshal(payload, &descriptor); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor for topic %s: %w", id, err)
	}
	descriptor.TopicID = id
	return &descriptor, nil
}

// Messages returns the full message history of a topic
func (c *MirrorClient) Messages(ctx context.Context, id TopicID) ([]Message, error) {
	return c.list(ctx, id, "")
}

// MessagesAfter returns messages strictly after the cursor message id
func (c *MirrorClient) MessagesAfter(ctx context.Context, id TopicID, cursor string) ([]Message, error) {
	filter := ""
	if cursor != "" {
		filter = "timestamp=gt:" + url.QueryEscape(cursor)
	}
	return c.list(ctx, id, filter)
}

// MessagesFrom returns messages at or after the given consensus timestamp
func (c *MirrorClient) MessagesFrom(ctx context.Context, id TopicID, start Timestamp) ([]Message, error) {
	return c.list(ctx, id, "timestamp=gte:"+url.QueryEscape(start.String()))
}

// CollectMessages polls for new messages until the window elapses.
// The mirror REST listing is pull-based, so the bounded subscribe is
// approximated by repeated short polls inside the window.
func (c *MirrorClient) CollectMessages(ctx context.Context, id TopicID, cursor string, window time.Duration) ([]Message, error) {
	deadline := time.Now().Add(window)
	var collected []Message

	for {
		messages, err := c.MessagesAfter(ctx, id, cursor)
		if err != nil {
			return collected, err
		}
		collected = append(collected, messages...)
		if len(messages) > 0 {
			cursor = messages[len(messages)-1].ID
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return collected, nil
		}
		wait := time.Second
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return collected, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Contents returns the already-assembled payload of a message
func (c *MirrorClient) Contents(ctx context.Context, msg Message) ([]byte, error) {
	if len(msg.Raw) == 0 {
		return nil, fmt.Errorf("message %s on topic %s has no payload", msg.ID, msg.TopicID)
	}
	return msg.Raw, nil
}

// ResolveAccount extracts the paying account of a subscriber identity.
// Ledger DIDs carry their account as a suffix after the final underscore;
// bare entity ids are returned unchanged.
func (c *MirrorClient) ResolveAccount(ctx context.Context, identity string) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("empty subscriber identity")
	}
	if idx := strings.LastIndex(identity, "_"); idx >= 0 {
		account := identity[idx+1:]
		if _, err := ParseTopicID(account); err != nil {
			return "", fmt.Errorf("identity %q has malformed account suffix: %w", identity, err)
		}
		return account, nil
	}
	if _, err := ParseTopicID(identity); err != nil {
		return "", fmt.Errorf("identity %q is not a ledger account id: %w", identity, err)
	}
	return identity, nil
}

// list pages through the topic message listing, reassembling chunked payloads
func (c *MirrorClient) list(ctx context.Context, id TopicID, filter string) ([]Message, error) {
	path := fmt.Sprintf("/api/v1/topics/%s/messages?limit=%d&order=asc", id, c.pageLimit)
	if filter != "" {
		path += "&" + filter
	}

	var messages []Message
	var pending *Message
	var pendingTotal int

	for path != "" {
		var page mirrorMessagePage
		if err := c.get(ctx, path, &page); err != nil {
			return nil, fmt.Errorf("failed to list messages on topic %s: %w", id, err)
		}

		for _, raw := range page.Messages {
			payload, err := base64.StdEncoding.DecodeString(raw.Message)
			if err != nil {
				return nil, fmt.Errorf("failed to decode message %s on topic %s: %w", raw.ConsensusTimestamp, id, err)
			}

			// Chunked payloads arrive as consecutive messages sharing an
			// initial transaction id; reassemble them under the first
			// chunk's consensus timestamp.
			if raw.ChunkInfo != nil && raw.ChunkInfo.Total > 1 {
				if raw.ChunkInfo.Number == 1 {
					pending = &Message{
						ID:      raw.ConsensusTimestamp,
						TopicID: id,
						Payer:   raw.PayerAccountID,
						Raw:     payload,
					}
					pendingTotal = raw.ChunkInfo.Total
					continue
				}
				if pending == nil {
					// Partial tail of a chunk set that started before the
					// requested range; nothing to attach it to.
					continue
				}
				pending.Raw = append(pending.Raw, payload...)
				if raw.ChunkInfo.Number < pendingTotal {
					continue
				}
				messages = append(messages, finishMessage(*pending))
				pending = nil
				continue
			}

			messages = append(messages, finishMessage(Message{
				ID:      raw.ConsensusTimestamp,
				TopicID: id,
				Payer:   raw.PayerAccountID,
				Raw:     payload,
			}))
		}

		path = page.Links.Next
	}

	return messages, nil
}

// finishMessage fills the envelope fields derived from the assembled payload
func finishMessage(msg Message) Message {
	var header struct {
		Type string `json:"type"`
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(msg.Raw, &header); err == nil {
		msg.Type = header.Type
		msg.Hash = header.Hash
	}
	return msg
}

// get performs a single GET against the mirror API and decodes the response
func (c *MirrorClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mirror node returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
