package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const geminiStreamMethod = ":streamGenerateContent"

var sseDataPrefix = []byte("data:")

// geminiFrameTransport drops undecodable SSE data lines from stream responses
// before the SDK sees them. The SDK treats any such line as fatal.
type geminiFrameTransport struct {
	next http.RoundTripper
}

func newGeminiHTTPClient() *http.Client {
	return &http.Client{Transport: &geminiFrameTransport{next: http.DefaultTransport}}
}

func (t *geminiFrameTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusOK || !strings.HasSuffix(req.URL.Path, geminiStreamMethod) {
		return resp, err
	}
	resp.Body = newFrameFilterBody(req.Context(), resp.Body)
	return resp, nil
}

type frameFilterBody struct {
	ctx     context.Context
	rc      io.ReadCloser
	r       *bufio.Reader
	pending []byte
	err     error
}

func newFrameFilterBody(ctx context.Context, rc io.ReadCloser) *frameFilterBody {
	return &frameFilterBody{ctx: ctx, rc: rc, r: bufio.NewReader(rc)}
}

func (b *frameFilterBody) Read(p []byte) (int, error) {
	for len(b.pending) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		line, err := b.r.ReadBytes('\n')
		b.err = err
		if len(line) > 0 && b.keep(line) {
			b.pending = line
		}
	}
	n := copy(p, b.pending)
	b.pending = b.pending[n:]
	return n, nil
}

func (b *frameFilterBody) keep(line []byte) bool {
	payload, ok := bytes.CutPrefix(bytes.TrimSpace(line), sseDataPrefix)
	if !ok || json.Valid(payload) {
		return true
	}
	logutil.GetLogger(b.ctx).Debug("skip malformed gemini frame", zap.Int("size", len(payload)))
	return false
}

func (b *frameFilterBody) Close() error {
	return b.rc.Close()
}
