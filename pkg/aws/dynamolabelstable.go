package aws

import (
	"context"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	istypes "github.com/blue-mimo/image-labelling/pkg/types"
)

// DynamoLabelsAPIClient is the subset of the DynamoDB client used by the labels table
type DynamoLabelsAPIClient interface {
	dynamodb.QueryAPIClient
	dynamodb.ScanAPIClient
	BatchWriteAPIClient
}

// DynamoLabelsTable implements the types.LabelStore interface on dynamodb.
// Records are keyed by (image_name, label_name) and a global secondary index
// on label_name serves lookups by label.
type DynamoLabelsTable struct {
	client    DynamoLabelsAPIClient
	tableName string
	indexName string
}

var _ istypes.LabelStore = (*DynamoLabelsTable)(nil)

func NewDynamoClient(cfg aws.Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg)
}

// NewDynamoLabelsTable returns a LabelStore connected to an AWS DynamoDB table
func NewDynamoLabelsTable(client DynamoLabelsAPIClient, tableName string, indexName string) *DynamoLabelsTable {
	return &DynamoLabelsTable{client, tableName, indexName}
}

// Put implements types.LabelStore.
func (d *DynamoLabelsTable) Put(ctx context.Context, image string, labels []istypes.Label) error {
	requests := make([]types.WriteRequest, 0, len(labels))
	for _, l := range labels {
		item, err := attributevalue.MarshalMap(labelItem{ImageName: image, LabelName: l.Name, Confidence: l.Confidence})
		if err != nil {
			return fmt.Errorf("serializing item: %w", err)
		}
		requests = append(requests, putRequest(item))
	}
	if err := batchWrite(ctx, d.client, d.tableName, requests); err != nil {
		return fmt.Errorf("storing labels for %s: %w", image, err)
	}
	return nil
}

// Get implements types.LabelStore.
func (d *DynamoLabelsTable) Get(ctx context.Context, image string) ([]istypes.Label, error) {
	keyEx := expression.Key("image_name").Equal(expression.Value(image))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
		TableName:                 aws.String(d.tableName),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		KeyConditionExpression:    expr.KeyCondition(),
		ConsistentRead:            aws.Bool(true),
	})

	labels := []istypes.Label{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying labels for %s: %w", image, err)
		}
		var items []labelItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("deserializing items: %w", err)
		}
		for _, item := range items {
			labels = append(labels, istypes.Label{Name: item.LabelName, Confidence: item.Confidence})
		}
	}
	return labels, nil
}

// Delete implements types.LabelStore.
func (d *DynamoLabelsTable) Delete(ctx context.Context, image string, labelNames []string) error {
	requests := make([]types.WriteRequest, 0, len(labelNames))
	for _, name := range labelNames {
		requests = append(requests, deleteRequest(labelItem{ImageName: image, LabelName: name}.GetKey()))
	}
	if err := batchWrite(ctx, d.client, d.tableName, requests); err != nil {
		return fmt.Errorf("deleting labels for %s: %w", image, err)
	}
	return nil
}

// ImagesWithLabel implements types.LabelStore.
func (d *DynamoLabelsTable) ImagesWithLabel(ctx context.Context, label string) ([]string, error) {
	keyEx := expression.Key("label_name").Equal(expression.Value(label))
	proj := expression.NamesList(expression.Name("image_name"))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).WithProjection(proj).Build()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
		TableName:                 aws.String(d.tableName),
		IndexName:                 aws.String(d.indexName),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
	})

	var images []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying images with label %s: %w", label, err)
		}
		var items []labelItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("deserializing items: %w", err)
		}
		for _, item := range items {
			images = append(images, item.ImageName)
		}
	}
	return images, nil
}

// All implements types.LabelStore.
func (d *DynamoLabelsTable) All(ctx context.Context) iter.Seq2[istypes.LabelRecord, error] {
	return func(yield func(istypes.LabelRecord, error) bool) {
		paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
			TableName: aws.String(d.tableName),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(istypes.LabelRecord{}, fmt.Errorf("scanning labels: %w", err))
				return
			}
			var items []labelItem
			if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
				yield(istypes.LabelRecord{}, fmt.Errorf("deserializing items: %w", err))
				return
			}
			for _, item := range items {
				if !yield(istypes.LabelRecord(item), nil) {
					return
				}
			}
		}
	}
}

type labelItem struct {
	ImageName  string  `dynamodbav:"image_name"`
	LabelName  string  `dynamodbav:"label_name"`
	Confidence float64 `dynamodbav:"confidence"`
}

// GetKey returns the composite primary key of the image & label in a format
// that can be sent to DynamoDB.
func (l labelItem) GetKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"image_name": &types.AttributeValueMemberS{Value: l.ImageName},
		"label_name": &types.AttributeValueMemberS{Value: l.LabelName},
	}
}
