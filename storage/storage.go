package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"

	"boardflow-api/domain"
)

var (
	// ErrNotFound is returned when the item does not exist under the account.
	ErrNotFound = errors.New("item not found")
	// ErrStaleItem is returned when the item changed between read and write,
	// or a create collides with an existing row. The caller's view is stale
	// and the write was declined.
	ErrStaleItem = errors.New("item changed upstream")
)

// Storage persists board items in an Azure table and publishes board
// events to an Azure queue. Items are partitioned by account; the row key
// is the item ID.
type Storage struct {
	itemTable  *aztables.Client
	eventQueue *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, itemsTable, eventsQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
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
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{itemTable: svc.NewClient(itemsTable), eventQueue: eq}, nil
}

type itemEntity struct {
	aztables.Entity
	Board          string `json:"Board"`
	Title          string `json:"Title"`
	Status         string `json:"Status"`
	ValueAmount    int64  `json:"ValueAmount"`
	ValueCurrency  string `json:"ValueCurrency"`
	StageEnteredAt string `json:"StageEnteredAt"`
	Urgent         bool   `json:"Urgent"`
	Tags           string `json:"Tags"`
	Assignees      string `json:"Assignees"`
}

func encodeItemEntity(accountID string, item domain.Item) ([]byte, error) {
	ent := itemEntity{
		Entity: aztables.Entity{
			PartitionKey: accountID,
			RowKey:       item.ID,
		},
		Board:         string(item.Board),
		Title:         item.Title,
		Status:        string(item.Status),
		ValueAmount:   item.Value.Amount,
		ValueCurrency: item.Value.Currency,
		Urgent:        item.Urgent,
	}
	if !item.StageEnteredAt.IsZero() {
		ent.StageEnteredAt = item.StageEnteredAt.UTC().Format(time.RFC3339Nano)
	}
	if len(item.Tags) > 0 {
		data, err := json.Marshal(item.Tags)
		if err != nil {
			return nil, err
		}
		ent.Tags = string(data)
	}
	if len(item.Assignees) > 0 {
		data, err := json.Marshal(item.Assignees)
		if err != nil {
			return nil, err
		}
		ent.Assignees = string(data)
	}
	return json.Marshal(ent)
}

func decodeItemEntity(data []byte) (domain.Item, error) {
	var ent itemEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Item{}, err
	}
	item := domain.Item{
		ID:     ent.RowKey,
		Board:  domain.BoardType(ent.Board),
		Title:  ent.Title,
		Status: domain.PersistedStatus(ent.Status),
		Value:  domain.Money{Amount: ent.ValueAmount, Currency: ent.ValueCurrency},
		Urgent: ent.Urgent,
	}
	if ent.StageEnteredAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, ent.StageEnteredAt); err == nil {
			item.StageEnteredAt = ts
		}
	}
	if ent.Tags != "" {
		_ = json.Unmarshal([]byte(ent.Tags), &item.Tags)
	}
	if ent.Assignees != "" {
		_ = json.Unmarshal([]byte(ent.Assignees), &item.Assignees)
	}
	return item, nil
}

// ListItems retrieves all items on one board of an account.
func (s *Storage) ListItems(ctx context.Context, accountID string, board domain.BoardType) ([]domain.Item, error) {
	filter := "PartitionKey eq '" + accountID + "' and Board eq '" + string(board) + "'"
	pager := s.itemTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	items := []domain.Item{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			item, err := decodeItemEntity(raw)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// GetItem fetches a single item by ID.
func (s *Storage) GetItem(ctx context.Context, accountID, itemID string) (domain.Item, error) {
	resp, err := s.itemTable.GetEntity(ctx, accountID, itemID, nil)
	if err != nil {
		return domain.Item{}, mapEntityError(err)
	}
	return decodeItemEntity(resp.Value)
}

// CreateItem stores a new item. A missing ID is assigned and the
// stage-entry timestamp starts now.
func (s *Storage) CreateItem(ctx context.Context, accountID string, item domain.Item) (domain.Item, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.StageEnteredAt = time.Now().UTC()
	data, err := encodeItemEntity(accountID, item)
	if err != nil {
		return domain.Item{}, err
	}
	if _, err := s.itemTable.AddEntity(ctx, data, nil); err != nil {
		return domain.Item{}, mapEntityError(err)
	}
	return item, nil
}

// UpdateItemStage writes a new persisted status and resets the stage-entry
// timestamp. The write is conditional on the entity not having changed
// since it was read; a concurrent change surfaces as ErrStaleItem so the
// caller rolls back instead of clobbering the last accepted write.
func (s *Storage) UpdateItemStage(ctx context.Context, accountID, itemID string, status domain.PersistedStatus) (domain.Item, error) {
	resp, err := s.itemTable.GetEntity(ctx, accountID, itemID, nil)
	if err != nil {
		return domain.Item{}, mapEntityError(err)
	}
	item, err := decodeItemEntity(resp.Value)
	if err != nil {
		return domain.Item{}, err
	}
	if item.Status == status {
		return item, nil
	}
	item.Status = status
	item.StageEnteredAt = time.Now().UTC()
	data, err := encodeItemEntity(accountID, item)
	if err != nil {
		return domain.Item{}, err
	}
	etag := azcore.ETag(resp.ETag)
	_, err = s.itemTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{
		IfMatch:    &etag,
		UpdateMode: aztables.UpdateModeReplace,
	})
	if err != nil {
		return domain.Item{}, mapEntityError(err)
	}
	return item, nil
}

// DeleteItem removes an item.
func (s *Storage) DeleteItem(ctx context.Context, accountID, itemID string) error {
	if _, err := s.itemTable.DeleteEntity(ctx, accountID, itemID, nil); err != nil {
		return mapEntityError(err)
	}
	return nil
}

// PublishEvent sends a board event to the events queue.
func (s *Storage) PublishEvent(ctx context.Context, accountID string, ev domain.BoardEvent) error {
	env := domain.BoardEventEnvelope{AccountID: accountID, Event: ev}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.eventQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

func mapEntityError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusConflict, http.StatusPreconditionFailed:
			return ErrStaleItem
		}
	}
	return err
}
