package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"nudge-core/domain"
)

// Remote is the replica on the other side of a reconciliation.
type Remote interface {
	List(ctx context.Context) ([]domain.Task, error)
	Upsert(ctx context.Context, t domain.Task) error
	Delete(ctx context.Context, id string) error
}

type taskEntity struct {
	aztables.Entity
	Payload string `json:"Payload"`
}

// TableRemote keeps the remote replica in an Azure table, one entity per
// task with the full record serialized into the Payload column. The device
// id is the partition key, so one table serves many devices.
type TableRemote struct {
	table     *aztables.Client
	partition string
	log       *log.Logger
}

// NewTableRemote wraps an existing table client.
func NewTableRemote(table *aztables.Client, partition string, logger *log.Logger) *TableRemote {
	return &TableRemote{table: table, partition: partition, log: logger}
}

// NewTableRemoteFromConnectionString connects to the named table.
func NewTableRemoteFromConnectionString(connStr, tableName, partition string, logger *log.Logger) (*TableRemote, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, fmt.Errorf("table service: %w", err)
	}
	return NewTableRemote(svc.NewClient(tableName), partition, logger), nil
}

// List returns every task in the partition. Entities whose payload does not
// decode are logged and skipped so one corrupt record cannot stall sync.
func (r *TableRemote) List(ctx context.Context) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + r.partition + "'"
	pager := r.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list remote tasks: %w", err)
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				r.log.WithError(err).Warn("undecodable remote entity skipped")
				continue
			}
			var t domain.Task
			if err := sonic.Unmarshal([]byte(ent.Payload), &t); err != nil {
				r.log.WithError(err).WithField("task", ent.RowKey).Warn("corrupt remote payload skipped")
				continue
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (r *TableRemote) Upsert(ctx context.Context, t domain.Task) error {
	payload, err := sonic.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode remote task: %w", err)
	}
	ent := taskEntity{
		Entity:  aztables.Entity{PartitionKey: r.partition, RowKey: t.ID},
		Payload: string(payload),
	}
	data, err := sonic.Marshal(ent)
	if err != nil {
		return fmt.Errorf("encode remote entity: %w", err)
	}
	if _, err := r.table.UpsertEntity(ctx, data, nil); err != nil {
		return fmt.Errorf("upsert remote task %s: %w", t.ID, err)
	}
	return nil
}

// Delete removes a task from the remote replica. A missing entity is not an
// error; another device may have purged it already.
func (r *TableRemote) Delete(ctx context.Context, id string) error {
	if _, err := r.table.DeleteEntity(ctx, r.partition, id, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return nil
		}
		return fmt.Errorf("delete remote task %s: %w", id, err)
	}
	return nil
}
