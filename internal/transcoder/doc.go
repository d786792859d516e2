// Package transcoder builds and runs the ffmpeg and ffprobe commands used to
// convert and describe videos.
//
// Conversions run on the media server that stores the file, through a
// remote.Gateway. Each conversion is one composite shell command that prints
// a success or failure sentinel; the output is then sized with stat and
// described with ffprobe. Uploaded files are probed locally before they are
// sent to the server.
//
// Requires ffmpeg and ffprobe on the media servers and ffprobe on the host
// running this service.
package transcoder
