package ingest

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"nudge-core/domain"
)

// queueMessages is the slice of the queue client the mailbox needs. The
// azqueue client satisfies it; tests fake it.
type queueMessages interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// Dequeued messages stay invisible this long. Clear must run within the
// window; after it lapses the batch turns visible again and redelivers.
const dequeueVisibilitySeconds = 300

// QueueMailbox is a mailbox backed by an Azure Storage queue. Producers on
// other devices enqueue share payloads; the drain reads them behind a
// visibility timeout and deletes nothing until Clear. A drain that dies
// mid-batch therefore redelivers, and the deduper absorbs the repeats.
type QueueMailbox struct {
	queue   queueMessages
	pending []queueReceipt
}

type queueReceipt struct {
	id      string
	receipt string
}

// NewQueueMailbox creates a mailbox over the given queue client.
func NewQueueMailbox(queue *azqueue.QueueClient) *QueueMailbox {
	return &QueueMailbox{queue: queue}
}

// NewQueueMailboxFromConnectionString connects to the named queue.
func NewQueueMailboxFromConnectionString(connStr, queueName string) (*QueueMailbox, error) {
	client, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, nil)
	if err != nil {
		return nil, fmt.Errorf("queue client: %w", err)
	}
	return &QueueMailbox{queue: client}, nil
}

func (m *QueueMailbox) Append(ctx context.Context, p domain.SharePayload) error {
	data, err := domain.EncodeSharePayload(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if _, err := m.queue.EnqueueMessage(ctx, string(data), nil); err != nil {
		return fmt.Errorf("enqueue payload: %w", err)
	}
	return nil
}

// ReadAll dequeues the full batch without deleting anything. Each message's
// pop receipt is held until Clear; messages that do not decode are counted
// as corrupt and their receipts held too, so Clear disposes of them.
func (m *QueueMailbox) ReadAll(ctx context.Context) ([]domain.SharePayload, int, error) {
	// Receipts from an earlier read that never got cleared are stale once
	// the visibility window lapses; the redelivery replaces them.
	m.pending = m.pending[:0]

	var payloads []domain.SharePayload
	corrupt := 0
	visibility := int32(dequeueVisibilitySeconds)
	opts := &azqueue.DequeueMessageOptions{VisibilityTimeout: &visibility}
	for {
		if err := ctx.Err(); err != nil {
			return payloads, corrupt, err
		}
		resp, err := m.queue.DequeueMessage(ctx, opts)
		if err != nil {
			return payloads, corrupt, fmt.Errorf("dequeue payload: %w", err)
		}
		if len(resp.Messages) == 0 {
			return payloads, corrupt, nil
		}
		for _, msg := range resp.Messages {
			if msg.MessageID != nil && msg.PopReceipt != nil {
				m.pending = append(m.pending, queueReceipt{id: *msg.MessageID, receipt: *msg.PopReceipt})
			}
			if msg.MessageText == nil {
				corrupt++
				continue
			}
			p, decErr := domain.DecodeSharePayload([]byte(*msg.MessageText))
			if decErr != nil {
				corrupt++
				continue
			}
			payloads = append(payloads, p)
		}
	}
}

// Clear deletes everything the last ReadAll dequeued. A failed delete keeps
// the rest pending; those messages redeliver when their visibility lapses.
func (m *QueueMailbox) Clear(ctx context.Context) error {
	for i, r := range m.pending {
		if _, err := m.queue.DeleteMessage(ctx, r.id, r.receipt, nil); err != nil {
			m.pending = m.pending[i:]
			return fmt.Errorf("delete queue message: %w", err)
		}
	}
	m.pending = nil
	return nil
}
