package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/abelzeko/river-levels/internal/entities"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

const (
	// BatchWriteItem accepts at most 25 put requests per call
	dynamoBatchSize = 25
	// Attempts at flushing UnprocessedItems before giving up
	dynamoBatchAttempts = 5

	attrStationID = "station_id"
	attrTimestamp = "timestamp"
	attrLevel     = "level"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the repository
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDBConfig holds configuration for DynamoDBReadingRepository
type DynamoDBConfig struct {
	Table    string
	Region   string
	Endpoint string // Optional custom endpoint (DynamoDB Local, LocalStack)
}

// DynamoDBReadingRepository implements ReadingRepository on a DynamoDB table
// with partition key station_id (S) and sort key timestamp (N).
type DynamoDBReadingRepository struct {
	client DynamoDBAPI
	table  string
	// retryDelay is multiplied by the attempt number between unprocessed item retries
	retryDelay time.Duration
}

// NewDynamoDBReadingRepository creates a repository backed by a DynamoDB table
func NewDynamoDBReadingRepository(ctx context.Context, cfg DynamoDBConfig) (*DynamoDBReadingRepository, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	log.Printf("Using DynamoDB table %s in %s", cfg.Table, cfg.Region)
	return NewDynamoDBReadingRepositoryWithClient(client, cfg.Table), nil
}

// NewDynamoDBReadingRepositoryWithClient wraps an existing client
func NewDynamoDBReadingRepositoryWithClient(client DynamoDBAPI, table string) *DynamoDBReadingRepository {
	return &DynamoDBReadingRepository{
		client:     client,
		table:      table,
		retryDelay: 200 * time.Millisecond,
	}
}

// PutReadingIfAbsent writes the item guarded by attribute_not_exists
func (d *DynamoDBReadingRepository) PutReadingIfAbsent(ctx context.Context, reading entities.Reading) (bool, error) {
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                readingItem(reading.StationID, reading),
		ConditionExpression: aws.String("attribute_not_exists(#sid)"),
		ExpressionAttributeNames: map[string]string{
			"#sid": attrStationID,
		},
	})
	if err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return false, nil
		}
		return false, fmt.Errorf("failed to put reading %s: %w", reading, err)
	}
	return true, nil
}

// PutReadingsBatch writes readings in chunks of 25, last write per key wins
func (d *DynamoDBReadingRepository) PutReadingsBatch(ctx context.Context, stationID string, readings []entities.Reading) error {
	// BatchWriteItem rejects a request that names the same key twice
	unique := dedupeByKey(withStation(stationID, readings))

	for start := 0; start < len(unique); start += dynamoBatchSize {
		end := min(start+dynamoBatchSize, len(unique))

		requests := make([]types.WriteRequest, 0, end-start)
		for _, r := range unique[start:end] {
			requests = append(requests, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: readingItem(stationID, r)},
			})
		}
		if err := d.flush(ctx, requests); err != nil {
			return err
		}
	}

	log.Printf("Successfully saved %d readings for station %s", len(unique), stationID)
	return nil
}

func (d *DynamoDBReadingRepository) flush(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{d.table: requests}

	for attempt := 1; attempt <= dynamoBatchAttempts; attempt++ {
		out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("failed to batch write readings: %w", err)
		}
		if len(out.UnprocessedItems[d.table]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
		log.Printf("Warning: %d readings unprocessed, retrying (attempt %d)", len(pending[d.table]), attempt)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * d.retryDelay):
		}
	}
	return fmt.Errorf("failed to batch write readings: %d items still unprocessed", len(pending[d.table]))
}

// GetReadingsSince queries the partition for sort keys greater than since
func (d *DynamoDBReadingRepository) GetReadingsSince(ctx context.Context, stationID string, since time.Time) ([]entities.Reading, error) {
	return d.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String("#sid = :sid AND #ts > :since"),
		ExpressionAttributeNames: map[string]string{
			"#sid": attrStationID,
			"#ts":  attrTimestamp,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid":   &types.AttributeValueMemberS{Value: stationID},
			":since": &types.AttributeValueMemberN{Value: strconv.FormatInt(since.Unix(), 10)},
		},
		ConsistentRead: aws.Bool(true),
	})
}

// GetAllReadings queries the whole partition of a station
func (d *DynamoDBReadingRepository) GetAllReadings(ctx context.Context, stationID string) ([]entities.Reading, error) {
	return d.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String("#sid = :sid"),
		ExpressionAttributeNames: map[string]string{
			"#sid": attrStationID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: stationID},
		},
		ConsistentRead: aws.Bool(true),
	})
}

func (d *DynamoDBReadingRepository) query(ctx context.Context, input *dynamodb.QueryInput) ([]entities.Reading, error) {
	var result []entities.Reading

	paginator := dynamodb.NewQueryPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query readings: %w", err)
		}
		for _, item := range page.Items {
			reading, err := itemReading(item)
			if err != nil {
				return nil, err
			}
			result = append(result, reading)
		}
	}
	return result, nil
}

// Close is a no-op, the SDK client holds no resources that need releasing
func (d *DynamoDBReadingRepository) Close() error { return nil }

func withStation(stationID string, readings []entities.Reading) []entities.Reading {
	out := make([]entities.Reading, len(readings))
	for i, r := range readings {
		r.StationID = stationID
		out[i] = r
	}
	return out
}

func readingItem(stationID string, r entities.Reading) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrStationID: &types.AttributeValueMemberS{Value: stationID},
		attrTimestamp: &types.AttributeValueMemberN{Value: strconv.FormatInt(r.Timestamp.Unix(), 10)},
		attrLevel:     &types.AttributeValueMemberN{Value: r.Level.String()},
	}
}

func itemReading(item map[string]types.AttributeValue) (entities.Reading, error) {
	station, ok := item[attrStationID].(*types.AttributeValueMemberS)
	if !ok {
		return entities.Reading{}, fmt.Errorf("item without %s attribute", attrStationID)
	}
	ts, ok := item[attrTimestamp].(*types.AttributeValueMemberN)
	if !ok {
		return entities.Reading{}, fmt.Errorf("item for %s without %s attribute", station.Value, attrTimestamp)
	}
	level, ok := item[attrLevel].(*types.AttributeValueMemberN)
	if !ok {
		return entities.Reading{}, fmt.Errorf("item for %s at %s without %s attribute", station.Value, ts.Value, attrLevel)
	}

	unix, err := strconv.ParseInt(ts.Value, 10, 64)
	if err != nil {
		return entities.Reading{}, fmt.Errorf("corrupt timestamp %q for %s: %w", ts.Value, station.Value, err)
	}
	value, err := decimal.NewFromString(level.Value)
	if err != nil {
		return entities.Reading{}, fmt.Errorf("corrupt level %q for %s: %w", level.Value, station.Value, err)
	}
	return entities.NewReading(station.Value, time.Unix(unix, 0), value), nil
}
