// Package protocol implements the wire frame shared by the reliable
// control stream and the unreliable datagram channel: the literal
// character sequence "<method>:<base64(json(payload))>".
package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Encode serializes payload to JSON, base64-encodes it, and joins it to
// method with a single colon. The empty struct still produces a
// non-empty base64 token ("{}" base64-encoded), matching spec.md §4.1.
func Encode(method string, payload any) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	js, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal payload for %q: %w", method, err)
	}
	b64 := base64.StdEncoding.EncodeToString(js)
	buf := make([]byte, 0, len(method)+1+len(b64))
	buf = append(buf, method...)
	buf = append(buf, ':')
	buf = append(buf, b64...)
	return buf, nil
}

// Decode splits frame once on ':'. The left half is the method; the
// right half is base64-decoded to raw JSON bytes. A missing separator,
// an empty method, an empty right half, or bad base64 yields an error; callers must silently drop it per
// spec.md §4.1 rather than surfacing it to the peer.
func Decode(frame []byte) (method string, rawPayload []byte, err error) {
	idx := bytes.IndexByte(frame, ':')
	if idx < 0 {
		return "", nil, fmt.Errorf("protocol: no ':' separator in frame")
	}
	method = string(frame[:idx])
	if method == "" {
		return "", nil, fmt.Errorf("protocol: empty method")
	}
	b64 := frame[idx+1:]
	if len(b64) == 0 {
		return method, nil, fmt.Errorf("protocol: empty payload for method %q", method)
	}
	rawPayload, err = base64.StdEncoding.DecodeString(string(b64))
	if err != nil {
		return "", nil, fmt.Errorf("protocol: bad base64 for method %q: %w", method, err)
	}
	return method, rawPayload, nil
}

// DecodePayload decodes frame and unmarshals its payload into out.
func DecodePayload(frame []byte, out any) (method string, err error) {
	method, raw, err := Decode(frame)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return "", fmt.Errorf("protocol: unmarshal payload for %q: %w", method, err)
	}
	return method, nil
}
