package aws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	signer "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// See https://docs.aws.amazon.com/AmazonElastiCache/latest/dg/auth-iam.html

const (
	elasticacheService = "elasticache"
	tokenExpirySeconds = 899
	// hex encoded SHA-256 of an empty body
	emptyBodySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

type elasticacheAuthToken struct {
	userID    string
	cacheName string
	region    string
}

func (e elasticacheAuthToken) sign(ctx context.Context, credentials aws.Credentials, now time.Time) (string, error) {
	query := url.Values{
		"Action":        {"connect"},
		"User":          {e.userID},
		"X-Amz-Expires": {strconv.Itoa(tokenExpirySeconds)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, (&url.URL{
		Scheme:   "http",
		Host:     e.cacheName,
		Path:     "/",
		RawQuery: query.Encode(),
	}).String(), nil)
	if err != nil {
		return "", err
	}

	signedURI, _, err := signer.NewSigner().PresignHTTP(ctx, credentials, req, emptyBodySHA256, elasticacheService, e.region, now)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(signedURI)
	if err != nil {
		return "", err
	}
	token := url.URL{Scheme: "http", Host: u.Host, Path: "/", RawQuery: u.RawQuery}
	return strings.TrimPrefix(token.String(), "http://"), nil
}

// redisCredentialVerifier returns a go-redis credentials provider that signs
// a fresh ElastiCache IAM auth token on every connection.
func redisCredentialVerifier(cfg aws.Config, userID string, cacheName string) func(context.Context) (string, string, error) {
	return func(ctx context.Context) (string, string, error) {
		credentials, err := cfg.Credentials.Retrieve(ctx)
		if err != nil {
			return "", "", fmt.Errorf("getting aws credentials: %w", err)
		}
		token, err := elasticacheAuthToken{userID: userID, cacheName: cacheName, region: cfg.Region}.sign(ctx, credentials, time.Now())
		if err != nil {
			return "", "", fmt.Errorf("signing redis auth token: %w", err)
		}
		return userID, token, nil
	}
}
