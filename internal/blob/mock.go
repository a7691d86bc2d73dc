package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3ForTests returns an *S3 backed by an in-memory fake HTTP
// transport, covering just the operations the Store interface needs.
// It lets the S3 driver be exercised without network access or
// real credentials.
func NewS3ForTests() *S3 {
	rt := &s3MockTransport{objects: make(map[string]s3MockObject)}
	cfg, _ := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return newS3WithClient(client, "mock-bucket")
}

type s3MockObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

type s3MockTransport struct{ objects map[string]s3MockObject }

func (m *s3MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && strings.Contains(req.URL.RawQuery, "list-type=2") {
		return m.list(req.URL.Query().Get("prefix")), nil
	}
	switch req.Method {
	case http.MethodHead:
		obj, ok := m.objects[key]
		if !ok {
			return mockResponse(http.StatusNotFound, nil, http.Header{}), nil
		}
		return mockResponse(http.StatusOK, nil, objectHeaders(obj)), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeAWSChunked(body); ok {
			body = dec
		}
		if _, exists := m.objects[key]; !exists {
			m.objects[key] = s3MockObject{
				body:        body,
				contentType: req.Header.Get("Content-Type"),
				metadata:    metadataFromHeaders(req.Header),
			}
		}
		return mockResponse(http.StatusOK, nil, http.Header{"ETag": {`"etag"`}}), nil
	case http.MethodGet:
		obj, ok := m.objects[key]
		if !ok {
			return mockResponse(http.StatusNotFound, nil, http.Header{}), nil
		}
		return mockResponse(http.StatusOK, obj.body, objectHeaders(obj)), nil
	case http.MethodDelete:
		delete(m.objects, key)
		return mockResponse(http.StatusNoContent, nil, http.Header{}), nil
	}
	return mockResponse(http.StatusNotImplemented, nil, http.Header{}), nil
}

func (m *s3MockTransport) list(prefix string) *http.Response {
	var keys []string
	for k := range m.objects {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		obj := m.objects[k]
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(obj.body))
	}
	b.WriteString("</ListBucketResult>")
	return mockResponse(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}})
}

func objectHeaders(obj s3MockObject) http.Header {
	h := http.Header{
		"Content-Length": {fmt.Sprintf("%d", len(obj.body))},
		"ETag":           {`"etag"`},
		"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
	}
	if obj.contentType != "" {
		h.Set("Content-Type", obj.contentType)
	}
	for k, v := range obj.metadata {
		h.Set("X-Amz-Meta-"+k, v)
	}
	return h
}

func metadataFromHeaders(h http.Header) map[string]string {
	meta := make(map[string]string)
	for name, values := range h {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-amz-meta-") && len(values) > 0 {
			meta[strings.TrimPrefix(lower, "x-amz-meta-")] = values[0]
		}
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func mockResponse(status int, body []byte, header http.Header) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     header,
	}
}

// decodeAWSChunked decodes a minimal single-chunk aws-chunked payload:
// <hex>\r\n<body>\r\n0\r\n...
func decodeAWSChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	size, err := parseHexSize(parts[0])
	if err != nil || int64(len(parts[1])) != size || parts[2] != "0" {
		return nil, false
	}
	return []byte(parts[1]), true
}

func parseHexSize(h string) (int64, error) {
	var v int64
	for _, c := range h {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v += int64(c - '0')
		case c >= 'a' && c <= 'f':
			v += int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v += int64(c-'A') + 10
		default:
			return 0, fmt.Errorf("invalid hex size %q", h)
		}
	}
	return v, nil
}
