package encoder

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

const maxLineBytes = 1 << 20

// scanLines splits on either '\n' or '\r'. ffmpeg rewrites its progress line
// in place with carriage returns, so both count as line ends.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// drain reads r until EOF and hands every non-blank line to emit. It keeps
// reading after a scan error so the writer never blocks on a full pipe.
func drain(r io.Reader, emit func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	sc.Split(scanLines)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		emit(line)
	}
	if sc.Err() != nil {
		_, _ = io.Copy(io.Discard, r)
	}
}
