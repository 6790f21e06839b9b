package encoder

import (
	"strconv"
	"time"
)

// Fixed output profile for the 1080p RTMP ingest tier.
const (
	videoCodec   = "libx264"
	videoPreset  = "veryfast"
	videoTune    = "zerolatency"
	videoBitrate = "2500k"
	videoBufSize = "5000k"
	keyframeGOP  = "60"
	audioCodec   = "aac"
	audioBitrate = "128k"
	audioRate    = "44100"
	outputFormat = "flv"
)

// Args returns the ffmpeg argument list that pushes source to ingestURL in a
// loop for at most duration. The ingest URL is always the final argument.
func Args(sourcePath, ingestURL string, duration time.Duration) []string {
	return []string{
		"-re",
		"-stream_loop", "-1",
		"-i", sourcePath,
		"-c:v", videoCodec,
		"-preset", videoPreset,
		"-tune", videoTune,
		"-b:v", videoBitrate,
		"-maxrate", videoBitrate,
		"-bufsize", videoBufSize,
		"-g", keyframeGOP,
		"-c:a", audioCodec,
		"-b:a", audioBitrate,
		"-ar", audioRate,
		"-f", outputFormat,
		"-t", formatSeconds(duration),
		ingestURL,
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
