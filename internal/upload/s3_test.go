package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockS3Client keeps multipart uploads in memory.
type MockS3Client struct {
	mu        sync.Mutex
	next      int
	uploads   map[string]map[int32][]byte
	objects   map[string][]byte
	uploaded  []int32
	aborted   []string
	failParts bool
}

func newMockS3Client() *MockS3Client {
	return &MockS3Client{uploads: make(map[string]map[int32][]byte), objects: make(map[string][]byte)}
}

func (m *MockS3Client) CreateMultipartUpload(_ context.Context, params *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := fmt.Sprintf("upload-%d", m.next)
	m.uploads[id] = make(map[int32][]byte)
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id), Key: params.Key}, nil
}

func (m *MockS3Client) UploadPart(_ context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failParts {
		return nil, errors.New("connection reset")
	}
	parts, ok := m.uploads[aws.ToString(params.UploadId)]
	if !ok {
		return nil, errors.New("NoSuchUpload")
	}
	data, _ := io.ReadAll(params.Body)
	n := aws.ToInt32(params.PartNumber)
	parts[n] = data
	m.uploaded = append(m.uploaded, n)
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", n))}, nil
}

func (m *MockS3Client) ListParts(_ context.Context, params *s3.ListPartsInput, _ ...func(*s3.Options)) (*s3.ListPartsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts, ok := m.uploads[aws.ToString(params.UploadId)]
	if !ok {
		return nil, errors.New("NoSuchUpload")
	}
	out := &s3.ListPartsOutput{IsTruncated: aws.Bool(false)}
	for n, data := range parts {
		out.Parts = append(out.Parts, types.Part{PartNumber: aws.Int32(n), ETag: aws.String(fmt.Sprintf("etag-%d", n)), Size: aws.Int64(int64(len(data)))})
	}
	return out, nil
}

func (m *MockS3Client) CompleteMultipartUpload(_ context.Context, params *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := m.uploads[aws.ToString(params.UploadId)]
	completed := params.MultipartUpload.Parts
	sort.Slice(completed, func(i, j int) bool { return aws.ToInt32(completed[i].PartNumber) < aws.ToInt32(completed[j].PartNumber) })
	var buf bytes.Buffer
	for _, p := range completed {
		buf.Write(parts[aws.ToInt32(p.PartNumber)])
	}
	m.objects[aws.ToString(params.Key)] = buf.Bytes()
	delete(m.uploads, aws.ToString(params.UploadId))
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (m *MockS3Client) AbortMultipartUpload(_ context.Context, params *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uploads, aws.ToString(params.UploadId))
	m.aborted = append(m.aborted, aws.ToString(params.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func newTestS3(client *MockS3Client) *S3Transport {
	return &S3Transport{
		Client:        client,
		Bucket:        "chat-uploads",
		Prefix:        "user_uploads",
		PublicBaseURL: "https://files.example.com/",
		PartSize:      4,
		logger:        zerolog.Nop(),
	}
}

func TestS3Transport_MultipartUpload(t *testing.T) {
	client := newMockS3Client()
	transport := newTestS3(client)

	var negotiated string
	var sent []int64
	result, err := transport.Start(context.Background(), TransferRequest{
		File:         NewFileFromBytes("my photo.jpg", "image/jpeg", []byte("0123456789")),
		Fingerprint:  "0011223344556677889900",
		OnNegotiated: func(url string) { negotiated = url },
	}, func(n, _ int64) { sent = append(sent, n) })
	require.NoError(t, err)

	assert.Equal(t, "https://files.example.com/user_uploads/0011223344556677/my%20photo.jpg", result.URL)
	assert.Equal(t, "my photo.jpg", result.Filename)
	assert.Equal(t, "s3://chat-uploads/user_uploads/0011223344556677/my%20photo.jpg?uploadId=upload-1", negotiated)
	assert.Equal(t, []int64{4, 8, 10}, sent)
	assert.Equal(t, "0123456789", string(client.objects["user_uploads/0011223344556677/my photo.jpg"]))
}

func TestS3Transport_ResumeSkipsStoredParts(t *testing.T) {
	client := newMockS3Client()
	transport := newTestS3(client)
	client.uploads["upload-9"] = map[int32][]byte{1: []byte("0123")}

	up := s3Upload{bucket: "chat-uploads", key: "user_uploads/abc/notes.txt", uploadID: "upload-9"}
	_, err := transport.Start(context.Background(), TransferRequest{
		File:         NewFileFromBytes("notes.txt", "text/plain", []byte("0123456789")),
		Fingerprint:  "abc",
		ResumeURL:    up.String(),
		OnNegotiated: func(string) {},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []int32{2, 3}, client.uploaded)
	assert.Equal(t, "0123456789", string(client.objects["user_uploads/abc/notes.txt"]))
}

func TestS3Transport_UnknownResumeStartsOver(t *testing.T) {
	client := newMockS3Client()
	transport := newTestS3(client)

	_, err := transport.Start(context.Background(), TransferRequest{
		File:        NewFileFromBytes("a.txt", "", []byte("abc")),
		Fingerprint: "abc",
		ResumeURL:   "s3://chat-uploads/user_uploads/abc/a.txt?uploadId=gone",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, client.next)
}

func TestS3Transport_PartFailure(t *testing.T) {
	client := newMockS3Client()
	client.failParts = true
	_, err := newTestS3(client).Start(context.Background(), TransferRequest{
		File:        NewFileFromBytes("a.txt", "", []byte("abc")),
		Fingerprint: "abc",
	}, nil)
	require.ErrorContains(t, err, "upload part 1")
}

func TestS3Transport_Abort(t *testing.T) {
	client := newMockS3Client()
	transport := newTestS3(client)
	client.uploads["upload-3"] = map[int32][]byte{}

	up := s3Upload{bucket: "chat-uploads", key: "k/a.txt", uploadID: "upload-3"}
	require.NoError(t, transport.Abort(context.Background(), up.String()))
	assert.Equal(t, []string{"upload-3"}, client.aborted)

	require.Error(t, transport.Abort(context.Background(), "https://not-s3/x"))
}

func TestParseS3Upload_RoundTrip(t *testing.T) {
	up := s3Upload{bucket: "b", key: "p/q r/s.txt", uploadID: "id+/="}
	parsed, err := parseS3Upload(up.String())
	require.NoError(t, err)
	assert.Equal(t, up, parsed)
}
