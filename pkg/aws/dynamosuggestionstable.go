package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	istypes "github.com/blue-mimo/image-labelling/pkg/types"
)

// DynamoSuggestionsAPIClient is the subset of the DynamoDB client used by the
// prefix suggestions table
type DynamoSuggestionsAPIClient interface {
	dynamodb.ScanAPIClient
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	BatchWriteAPIClient
}

// DynamoSuggestionsTable implements the types.SuggestionStore interface on dynamodb
type DynamoSuggestionsTable struct {
	client    DynamoSuggestionsAPIClient
	tableName string
}

var _ istypes.SuggestionStore = (*DynamoSuggestionsTable)(nil)

// NewDynamoSuggestionsTable returns a SuggestionStore connected to an AWS DynamoDB table
func NewDynamoSuggestionsTable(client DynamoSuggestionsAPIClient, tableName string) *DynamoSuggestionsTable {
	return &DynamoSuggestionsTable{client, tableName}
}

// Get implements types.SuggestionStore.
func (d *DynamoSuggestionsTable) Get(ctx context.Context, prefix string) ([]string, error) {
	response, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       suggestionItem{Prefix: prefix}.GetKey(),
	})
	if err != nil {
		return nil, fmt.Errorf("retrieving item: %w", err)
	}
	if response.Item == nil {
		return nil, istypes.ErrKeyNotFound
	}
	var item suggestionItem
	if err := attributevalue.UnmarshalMap(response.Item, &item); err != nil {
		return nil, fmt.Errorf("deserializing item: %w", err)
	}
	return item.Suggestions, nil
}

// Prefixes implements types.SuggestionStore.
func (d *DynamoSuggestionsTable) Prefixes(ctx context.Context) ([]string, error) {
	expr, err := expression.NewBuilder().WithProjection(expression.NamesList(expression.Name("prefix"))).Build()
	if err != nil {
		return nil, fmt.Errorf("building scan: %w", err)
	}
	paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName:                aws.String(d.tableName),
		ExpressionAttributeNames: expr.Names(),
		ProjectionExpression:     expr.Projection(),
	})
	var prefixes []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning prefixes: %w", err)
		}
		var items []suggestionItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("deserializing items: %w", err)
		}
		for _, item := range items {
			prefixes = append(prefixes, item.Prefix)
		}
	}
	return prefixes, nil
}

// PutBatch implements types.SuggestionStore.
func (d *DynamoSuggestionsTable) PutBatch(ctx context.Context, suggestions []istypes.Suggestion) error {
	requests := make([]types.WriteRequest, 0, len(suggestions))
	for _, s := range suggestions {
		item, err := attributevalue.MarshalMap(suggestionItem(s))
		if err != nil {
			return fmt.Errorf("serializing item: %w", err)
		}
		requests = append(requests, putRequest(item))
	}
	if err := batchWrite(ctx, d.client, d.tableName, requests); err != nil {
		return fmt.Errorf("storing suggestions: %w", err)
	}
	return nil
}

// DeleteBatch implements types.SuggestionStore.
func (d *DynamoSuggestionsTable) DeleteBatch(ctx context.Context, prefixes []string) error {
	requests := make([]types.WriteRequest, 0, len(prefixes))
	for _, p := range prefixes {
		requests = append(requests, deleteRequest(suggestionItem{Prefix: p}.GetKey()))
	}
	if err := batchWrite(ctx, d.client, d.tableName, requests); err != nil {
		return fmt.Errorf("deleting suggestions: %w", err)
	}
	return nil
}

type suggestionItem struct {
	Prefix      string   `dynamodbav:"prefix"`
	Suggestions []string `dynamodbav:"suggestions"`
}

// GetKey returns the primary key of the prefix in a format that can be sent to
// DynamoDB.
func (s suggestionItem) GetKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"prefix": &types.AttributeValueMemberS{Value: s.Prefix},
	}
}
