package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/dray-io/dray-rest/internal/produce"
)

// Media types accepted on produce requests. Keys and values are base64 in all
// of them.
const (
	ContentTypeBinaryV1 = "application/vnd.kafka.binary.v1+json"
	ContentTypeV1       = "application/vnd.kafka.v1+json"
	ContentTypeJSON     = "application/json"
)

// Request decoding errors.
var (
	ErrUnsupportedMediaType = errors.New("server: unsupported media type")
	ErrUnsupportedEncoding  = errors.New("server: unsupported content encoding")
	ErrBodyTooLarge         = errors.New("server: request body too large")
)

// produceRecord is a record as it appears on the wire.
type produceRecord struct {
	Key       *string `json:"key"`
	Value     *string `json:"value"`
	Partition *int32  `json:"partition"`
}

type produceBody struct {
	Records []produceRecord `json:"records"`
}

// checkContentType accepts the REST proxy media types and plain JSON. A
// missing header is treated as JSON.
func checkContentType(header string) error {
	if header == "" {
		return nil
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedMediaType, header)
	}
	switch mt {
	case ContentTypeBinaryV1, ContentTypeV1, ContentTypeJSON:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMediaType, mt)
	}
}

// bodyReader wraps body in the decompressor named by the Content-Encoding
// header. The returned closer releases decoder resources, not body.
func bodyReader(body io.Reader, encoding string) (io.Reader, func(), error) {
	nop := func() {}
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nop, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, nop, fmt.Errorf("%w: gzip: %w", produce.ErrMalformedRequest, err)
		}
		return zr, func() { _ = zr.Close() }, nil
	case "zstd":
		zr, err := zstd.NewReader(body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nop, fmt.Errorf("%w: zstd: %w", produce.ErrMalformedRequest, err)
		}
		return zr, zr.Close, nil
	case "snappy":
		return snappy.NewReader(body), nop, nil
	case "lz4":
		return lz4.NewReader(body), nop, nil
	default:
		return nil, nop, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}
}

// readBody decodes r's body into a produce request. maxBytes bounds both the
// bytes on the wire and the decompressed size.
func readBody(w http.ResponseWriter, r *http.Request, maxBytes int64) (produce.Request, error) {
	if err := checkContentType(r.Header.Get("Content-Type")); err != nil {
		return produce.Request{}, err
	}

	raw := http.MaxBytesReader(w, r.Body, maxBytes)
	body, release, err := bodyReader(raw, r.Header.Get("Content-Encoding"))
	defer release()
	if err != nil {
		return produce.Request{}, tooLarge(err)
	}

	data, err := io.ReadAll(io.LimitReader(body, maxBytes+1))
	if err != nil {
		return produce.Request{}, tooLarge(fmt.Errorf("%w: read body: %w", produce.ErrMalformedRequest, err))
	}
	if int64(len(data)) > maxBytes {
		return produce.Request{}, fmt.Errorf("%w: decoded body exceeds %d bytes", ErrBodyTooLarge, maxBytes)
	}
	return decodeRecords(data)
}

// tooLarge converts a MaxBytesReader failure anywhere in err's chain into
// ErrBodyTooLarge.
func tooLarge(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return fmt.Errorf("%w: body exceeds %d bytes", ErrBodyTooLarge, mbe.Limit)
	}
	return err
}

// decodeRecords parses the JSON document. A null or absent key means no key;
// a null or absent value is kept nil and distinct from an empty value.
func decodeRecords(data []byte) (produce.Request, error) {
	var body produceBody
	if err := json.Unmarshal(data, &body); err != nil {
		return produce.Request{}, fmt.Errorf("%w: %w", produce.ErrMalformedRequest, err)
	}

	req := produce.Request{Records: make([]produce.Record, len(body.Records))}
	for i, rec := range body.Records {
		key, err := decodeField(rec.Key)
		if err != nil {
			return produce.Request{}, fmt.Errorf("%w: record %d key: %w", produce.ErrMalformedRequest, i, err)
		}
		value, err := decodeField(rec.Value)
		if err != nil {
			return produce.Request{}, fmt.Errorf("%w: record %d value: %w", produce.ErrMalformedRequest, i, err)
		}
		req.Records[i] = produce.Record{Key: key, Value: value, Partition: rec.Partition}
	}
	return req, nil
}

func decodeField(s *string) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(*s)
}
