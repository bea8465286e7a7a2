package comms

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

type header struct {
	key   string
	value string
}

// maxFrameSize caps a single header or frame so a corrupt size prefix cannot
// allocate unbounded memory.
const maxFrameSize = 64 << 20

func headerMap(headers []header) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[h.key] = h.value
	}
	return m
}

func readConnectionHeader(r io.Reader) ([]header, error) {
	var headerSize uint32
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, err
	}
	if headerSize > maxFrameSize {
		return nil, errors.Errorf("connection header too large: %d bytes", headerSize)
	}
	buf := make([]byte, int(headerSize))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	var headers []header
	reader := bytes.NewReader(buf)
	for reader.Len() > 0 {
		var size uint32
		if err := binary.Read(reader, binary.LittleEndian, &size); err != nil {
			return nil, errors.Wrap(err, "truncated header field size")
		}
		if int(size) > reader.Len() {
			return nil, errors.New("header length overrun")
		}
		line := make([]byte, int(size))
		_, _ = reader.Read(line)
		sep := bytes.IndexByte(line, '=')
		if sep < 0 {
			return nil, errors.Errorf("header field %q has no '='", line)
		}
		headers = append(headers, header{string(line[:sep]), string(line[sep+1:])})
	}
	return headers, nil
}

func writeConnectionHeader(headers []header, w io.Writer) error {
	var buf bytes.Buffer
	var total uint32
	for _, h := range headers {
		total += uint32(4 + len(h.key) + 1 + len(h.value))
	}
	_ = binary.Write(&buf, binary.LittleEndian, total)
	for _, h := range headers {
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(h.key)+1+len(h.value)))
		buf.WriteString(h.key)
		buf.WriteByte('=')
		buf.WriteString(h.value)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// writeBlock writes a uint32 little endian size followed by data.
func writeBlock(w io.Writer, data []byte) error {
	buf := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := w.Write(buf)
	return err
}

func readBlock(r io.Reader) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	if size > maxFrameSize {
		return nil, errors.Errorf("frame too large: %d bytes", size)
	}
	data := make([]byte, int(size))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// encodeTopicFrame builds the body of a topic frame: the type tag prefixed by
// its length, followed by the payload.
func encodeTopicFrame(typeTag string, payload []byte) []byte {
	body := make([]byte, 4+len(typeTag)+len(payload))
	binary.LittleEndian.PutUint32(body, uint32(len(typeTag)))
	copy(body[4:], typeTag)
	copy(body[4+len(typeTag):], payload)
	return body
}

func decodeTopicFrame(body []byte) (string, []byte, error) {
	if len(body) < 4 {
		return "", nil, errors.New("topic frame shorter than its type length")
	}
	n := binary.LittleEndian.Uint32(body)
	if uint64(n) > uint64(len(body)-4) {
		return "", nil, errors.New("topic frame type tag overrun")
	}
	return string(body[4 : 4+n]), body[4+n:], nil
}
