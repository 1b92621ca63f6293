package sandbox

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// wireSecret is the per-plugin HMAC key shared with the child process over
// its materialized secrets file, never over an environment variable or a
// command-line argument (both of which leak into process listings).
type wireSecret []byte

// frameWriter serializes newline-delimited JSON frames, HMAC-signing each
// one before it goes out.
type frameWriter struct {
	w      *bufio.Writer
	secret wireSecret
}

func newFrameWriter(w io.Writer, secret wireSecret) *frameWriter {
	return &frameWriter{w: bufio.NewWriter(w), secret: secret}
}

// WriteRequest signs and writes req.
func (f *frameWriter) WriteRequest(req Request) error {
	req.HMAC = ""
	mac, err := signPayload(f.secret, req)
	if err != nil {
		return err
	}
	req.HMAC = mac

	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if _, err := f.w.Write(raw); err != nil {
		return err
	}
	if err := f.w.WriteByte('\n'); err != nil {
		return err
	}
	return f.w.Flush()
}

// frameReader deserializes newline-delimited JSON frames and verifies each
// one's HMAC before handing it to the caller.
type frameReader struct {
	scanner *bufio.Scanner
	secret  wireSecret
}

func newFrameReader(r io.Reader, secret wireSecret) *frameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	return &frameReader{scanner: scanner, secret: secret}
}

// ReadResponse reads and verifies the next response frame. Returns io.EOF
// when the plugin's stdout is closed.
func (f *frameReader) ReadResponse() (Response, error) {
	if !f.scanner.Scan() {
		if err := f.scanner.Err(); err != nil {
			return Response{}, err
		}
		return Response{}, io.EOF
	}

	var resp Response
	if err := json.Unmarshal(f.scanner.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("unmarshal response: %w", err)
	}

	gotMAC := resp.HMAC
	resp.HMAC = ""
	wantMAC, err := signPayload(f.secret, resp)
	if err != nil {
		return Response{}, err
	}
	if !hmac.Equal([]byte(gotMAC), []byte(wantMAC)) {
		return Response{}, fmt.Errorf("response HMAC verification failed")
	}
	return resp, nil
}

// signPayload computes an HMAC-SHA256 over the canonical JSON encoding of
// v (map keys sorted, which encoding/json already guarantees for map[string]any,
// and struct field order is fixed by Go's reflect field ordering, so two
// calls with equal field values always produce the same bytes).
func signPayload(secret wireSecret, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal for signing: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// sortedKeys is a small helper used by callers that need deterministic
// iteration over a parameters map before logging or hashing it.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
