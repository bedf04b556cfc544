package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/blue-mimo/image-labelling/pkg/types"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("aws")

// ImageLabeledMessage is the JSON message published after an image is labelled
type ImageLabeledMessage struct {
	Image  string        `json:"image"`
	Labels []types.Label `json:"labels"`
}

// SNSPublishAPIClient is the subset of the SNS client used for notifications
type SNSPublishAPIClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSLabelNotifier implements types.LabelNotifier by publishing to an SNS topic
type SNSLabelNotifier struct {
	topicArn  string
	snsClient SNSPublishAPIClient
}

var _ types.LabelNotifier = (*SNSLabelNotifier)(nil)

func NewSNSLabelNotifier(config aws.Config, topicArn string) *SNSLabelNotifier {
	return NewSNSLabelNotifierWithClient(sns.NewFromConfig(config), topicArn)
}

func NewSNSLabelNotifierWithClient(client SNSPublishAPIClient, topicArn string) *SNSLabelNotifier {
	return &SNSLabelNotifier{topicArn: topicArn, snsClient: client}
}

// NotifyLabeled implements types.LabelNotifier.
func (s *SNSLabelNotifier) NotifyLabeled(ctx context.Context, image string, labels []types.Label) error {
	messageJSON, err := json.Marshal(ImageLabeledMessage{Image: image, Labels: labels})
	if err != nil {
		return fmt.Errorf("serializing image labeled message: %w", err)
	}
	_, err = s.snsClient.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicArn),
		Message:  aws.String(string(messageJSON)),
	})
	if err != nil {
		return fmt.Errorf("publishing image labeled message: %w", err)
	}
	return nil
}
