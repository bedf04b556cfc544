package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	istypes "github.com/blue-mimo/image-labelling/pkg/types"
)

// DynamoLabelCountsAPIClient is the subset of the DynamoDB client used by the
// label counts table
type DynamoLabelCountsAPIClient interface {
	dynamodb.ScanAPIClient
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoLabelCountsTable implements the types.LabelCountStore interface on
// dynamodb, using the native ADD update for atomic counting.
type DynamoLabelCountsTable struct {
	client    DynamoLabelCountsAPIClient
	tableName string
}

var _ istypes.LabelCountStore = (*DynamoLabelCountsTable)(nil)

// NewDynamoLabelCountsTable returns a LabelCountStore connected to an AWS DynamoDB table
func NewDynamoLabelCountsTable(client DynamoLabelCountsAPIClient, tableName string) *DynamoLabelCountsTable {
	return &DynamoLabelCountsTable{client, tableName}
}

// Increment implements types.LabelCountStore.
func (d *DynamoLabelCountsTable) Increment(ctx context.Context, label string) error {
	update := expression.Add(expression.Name("count"), expression.Value(1))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       countItem{LabelName: label}.GetKey(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		UpdateExpression:          expr.Update(),
	})
	if err != nil {
		return fmt.Errorf("incrementing count for %s: %w", label, err)
	}
	return nil
}

// Decrement implements types.LabelCountStore. The update only applies to an
// existing positive counter; an entry that reaches zero is removed.
func (d *DynamoLabelCountsTable) Decrement(ctx context.Context, label string) error {
	update := expression.Add(expression.Name("count"), expression.Value(-1))
	cond := expression.AttributeExists(expression.Name("label_name")).
		And(expression.Name("count").GreaterThan(expression.Value(0)))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       countItem{LabelName: label}.GetKey(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			log.Warnf("not decrementing missing or zero count for label %q", label)
			return nil
		}
		return fmt.Errorf("decrementing count for %s: %w", label, err)
	}

	var updated countItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return fmt.Errorf("deserializing item: %w", err)
	}
	if updated.Count > 0 {
		return nil
	}
	return d.deleteIfZero(ctx, label)
}

// deleteIfZero removes a counter unless a concurrent increment raised it again.
func (d *DynamoLabelCountsTable) deleteIfZero(ctx context.Context, label string) error {
	cond := expression.Name("count").LessThanEqual(expression.Value(0))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("building condition: %w", err)
	}
	_, err = d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       countItem{LabelName: label}.GetKey(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConditionExpression:       expr.Condition(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("removing zero count for %s: %w", label, err)
	}
	return nil
}

// Put implements types.LabelCountStore.
func (d *DynamoLabelCountsTable) Put(ctx context.Context, count istypes.LabelCount) error {
	item, err := attributevalue.MarshalMap(countItem(count))
	if err != nil {
		return fmt.Errorf("serializing item: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("storing count for %s: %w", count.LabelName, err)
	}
	return nil
}

// Delete implements types.LabelCountStore.
func (d *DynamoLabelCountsTable) Delete(ctx context.Context, label string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       countItem{LabelName: label}.GetKey(),
	})
	if err != nil {
		return fmt.Errorf("deleting count for %s: %w", label, err)
	}
	return nil
}

// All implements types.LabelCountStore.
func (d *DynamoLabelCountsTable) All(ctx context.Context) ([]istypes.LabelCount, error) {
	paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName: aws.String(d.tableName),
	})
	var counts []istypes.LabelCount
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning label counts: %w", err)
		}
		var items []countItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("deserializing items: %w", err)
		}
		for _, item := range items {
			counts = append(counts, istypes.LabelCount(item))
		}
	}
	return counts, nil
}

type countItem struct {
	LabelName string `dynamodbav:"label_name"`
	Count     int64  `dynamodbav:"count"`
}

// GetKey returns the primary key of the label in a format that can be sent to
// DynamoDB.
func (c countItem) GetKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"label_name": &types.AttributeValueMemberS{Value: c.LabelName},
	}
}
