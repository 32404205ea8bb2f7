package s3

import (
	"context"
	"sort"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDDB struct {
	items map[uint64]string // seq -> snapshot key
	fail  bool
}

func newFakeDDB() *fakeDDB {
	return &fakeDDB{items: map[uint64]string{}}
}

func (f *fakeDDB) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	seqAttr := params.Item["seq"].(*types.AttributeValueMemberN)
	seq, err := strconv.ParseUint(seqAttr.Value, 10, 64)
	if err != nil {
		return nil, err
	}
	if _, exists := f.items[seq]; exists || f.fail {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("seq exists")}
	}
	f.items[seq] = params.Item["snapshot_key"].(*types.AttributeValueMemberS).Value
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if len(f.items) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	seqs := make([]uint64, 0, len(f.items))
	for s := range f.items {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] > seqs[j] })
	latest := seqs[0]

	return &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{{
			"archive_uri":  &types.AttributeValueMemberS{Value: "s3://bucket/prefix"},
			"seq":          &types.AttributeValueMemberN{Value: strconv.FormatUint(latest, 10)},
			"snapshot_key": &types.AttributeValueMemberS{Value: f.items[latest]},
		}},
	}, nil
}

func TestCommitStoreEmptyLatest(t *testing.T) {
	cs := NewCommitStore(newFakeDDB(), "memsentry-commits", "s3://bucket/prefix")
	seq, key, err := cs.Latest(context.Background())
	require.NoError(t, err)
	assert.Zero(t, seq)
	assert.Empty(t, key)
}

func TestCommitStoreSequence(t *testing.T) {
	ctx := context.Background()
	cs := NewCommitStore(newFakeDDB(), "memsentry-commits", "s3://bucket/prefix")

	seq, err := cs.Commit(ctx, "snapshots/000001.json.zst")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	seq, err = cs.Commit(ctx, "snapshots/000002.json.zst")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	latest, key, err := cs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest)
	assert.Equal(t, "snapshots/000002.json.zst", key)
}

func TestCommitStoreConcurrentCommit(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDB()
	cs := NewCommitStore(ddb, "memsentry-commits", "s3://bucket/prefix")

	_, err := cs.Commit(ctx, "snapshots/000001.json.zst")
	require.NoError(t, err)

	ddb.fail = true
	_, err = cs.Commit(ctx, "snapshots/000002.json.zst")
	assert.ErrorIs(t, err, ErrConcurrentCommit)
}
