package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ErrConcurrentCommit is returned when another archiver committed the
// same sequence first.
var ErrConcurrentCommit = errors.New("s3: concurrent snapshot commit detected")

// CommitStore records which archived snapshot is the latest, using
// DynamoDB conditional writes for the compare-and-swap S3 cannot do.
// Each commit maps a monotonically increasing sequence number to the
// S3 key of the archived snapshot.
//
// Table schema:
//   - Partition key: archive_uri (string), the S3 bucket/prefix
//   - Sort key: seq (number), monotonically increasing
//
// Create with:
//
//	aws dynamodb create-table \
//	  --table-name memsentry-commits \
//	  --attribute-definitions AttributeName=archive_uri,AttributeType=S AttributeName=seq,AttributeType=N \
//	  --key-schema AttributeName=archive_uri,KeyType=HASH AttributeName=seq,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitStore struct {
	client    DDBClient
	tableName string
	// archiveURI is the partition key, "s3://bucket/prefix" of the
	// paired Store.
	archiveURI string
}

// NewCommitStore creates a commit store over an existing table.
func NewCommitStore(client DDBClient, tableName, archiveURI string) *CommitStore {
	return &CommitStore{
		client:     client,
		tableName:  tableName,
		archiveURI: archiveURI,
	}
}

// Latest returns the newest committed sequence and its snapshot key.
// A zero sequence means nothing was committed yet.
func (c *CommitStore) Latest(ctx context.Context) (uint64, string, error) {
	resp, err := c.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("archive_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: c.archiveURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query commits: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	seqAttr, ok := item["seq"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: invalid seq attribute in commit item")
	}
	keyAttr, ok := item["snapshot_key"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: invalid snapshot_key attribute in commit item")
	}

	seq, err := strconv.ParseUint(seqAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parse commit seq: %w", err)
	}
	return seq, keyAttr.Value, nil
}

// Commit records snapshotKey as the next sequence. The conditional put
// fails if a concurrent archiver claimed the sequence first.
func (c *CommitStore) Commit(ctx context.Context, snapshotKey string) (uint64, error) {
	current, _, err := c.Latest(ctx)
	if err != nil {
		return 0, err
	}
	next := current + 1

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"archive_uri":  &types.AttributeValueMemberS{Value: c.archiveURI},
			"seq":          &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"snapshot_key": &types.AttributeValueMemberS{Value: snapshotKey},
		},
		ConditionExpression: aws.String("attribute_not_exists(seq)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return 0, ErrConcurrentCommit
		}
		return 0, fmt.Errorf("commit snapshot: %w", err)
	}
	return next, nil
}
