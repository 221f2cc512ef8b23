package archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	key  string
	body string
	err  error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.key = aws.ToString(in.Key)
	raw, _ := io.ReadAll(in.Body)
	f.body = string(raw)
	return &s3.PutObjectOutput{}, nil
}

func TestS3ArchiverPutJSON(t *testing.T) {
	f := &fakePutter{}
	a := &S3Archiver{api: f, bucket: "b"}

	require.NoError(t, a.PutJSON(context.Background(), "k.json", map[string]int{"n": 1}))
	assert.Equal(t, "k.json", f.key)
	assert.JSONEq(t, `{"n":1}`, f.body)

	require.NoError(t, a.PutJSON(context.Background(), "raw.json", []byte(`{"raw":true}`)))
	assert.Equal(t, `{"raw":true}`, f.body)
}

func TestS3ArchiverError(t *testing.T) {
	a := &S3Archiver{api: &fakePutter{err: errors.New("boom")}, bucket: "b"}
	err := a.PutJSON(context.Background(), "k", 1)
	assert.ErrorContains(t, err, "boom")
}

func TestNewDisabledReturnsNop(t *testing.T) {
	a, err := New(context.Background(), &Config{})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, a)
}

func TestKeys(t *testing.T) {
	at := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "webhooks/paystack/2026/03/07/12-charge.success.json", WebhookKey("paystack", "charge.success", 12, at))
	assert.Equal(t, "payouts/s1/2026/03/1772841600.json", PayoutKey("s1", at))
}
