package combine

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	objects map[string]string
	calls   []string
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(params.Bucket) + "/" + aws.ToString(params.Key)
	f.calls = append(f.calls, key)
	body, ok := f.objects[key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
	}, nil
}

func TestS3TransportFetch(t *testing.T) {
	client := &fakeS3{objects: map[string]string{"assets/split/game.data0": "s3 bytes"}}
	transport := NewS3TransportFromClient(client, 0)

	var ticks int
	data, err := transport.Fetch(context.Background(), "s3://assets/split/game.data0", func(loaded, total int64) {
		ticks++
		if total != 8 {
			t.Errorf("total = %d, want 8", total)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "s3 bytes" || ticks == 0 {
		t.Errorf("data = %q, ticks = %d", data, ticks)
	}
}

func TestS3TransportMissingObject(t *testing.T) {
	transport := NewS3TransportFromClient(&fakeS3{}, 0)
	_, err := transport.Fetch(context.Background(), "s3://assets/missing", nil)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("got %v, want transport fault", err)
	}
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := ParseS3URL("s3://assets/split/a/b.bin")
	if err != nil {
		t.Fatal(err)
	}
	if bucket != "assets" || key != "split/a/b.bin" {
		t.Errorf("got %s %s", bucket, key)
	}
	for _, bad := range []string{"https://assets/x", "s3://assets", "s3:///key"} {
		if _, _, err := ParseS3URL(bad); err == nil {
			t.Errorf("%s: expected an error", bad)
		}
	}
}
