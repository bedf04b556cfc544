package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// maximum number of write requests DynamoDB accepts in one BatchWriteItem
	batchWriteLimit = 25
	// number of times unprocessed items are resubmitted before giving up
	batchWriteAttempts = 5
)

// delay before the first resubmission, doubled on each further one
var batchWriteBackoff = 50 * time.Millisecond

// BatchWriteAPIClient is the subset of the DynamoDB client used for batch writes
type BatchWriteAPIClient interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// batchWrite submits the write requests in chunks of at most 25, resubmitting
// any items DynamoDB reports as unprocessed after an exponential backoff.
func batchWrite(ctx context.Context, client BatchWriteAPIClient, tableName string, requests []types.WriteRequest) error {
	for start := 0; start < len(requests); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(requests))
		pending := map[string][]types.WriteRequest{tableName: requests[start:end]}
		backoff := batchWriteBackoff
		for attempt := 0; len(pending[tableName]) > 0; attempt++ {
			if attempt == batchWriteAttempts {
				return fmt.Errorf("writing batch: %d items left unprocessed", len(pending[tableName]))
			}
			if attempt > 0 {
				timer := time.NewTimer(backoff)
				select {
				case <-ctx.Done():
					timer.Stop()
					return fmt.Errorf("writing batch: %w", ctx.Err())
				case <-timer.C:
				}
				backoff *= 2
			}
			out, err := client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("writing batch: %w", err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

func putRequest(item map[string]types.AttributeValue) types.WriteRequest {
	return types.WriteRequest{PutRequest: &types.PutRequest{Item: item}}
}

func deleteRequest(key map[string]types.AttributeValue) types.WriteRequest {
	return types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}}
}
