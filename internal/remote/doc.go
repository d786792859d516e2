/*
Package remote is the narrow interface through which the service touches the
media servers that store and transcode video files.

# Protocol

Every operation is a shell command run on the server. Success is never
inferred from exit codes: each command echoes a sentinel token on stdout and
callers look for it. The transcode command prints CONVERSION_SUCCESS or
CONVERSION_ERROR, the probe command prints NO_PROBE when ffprobe fails, and
the file helpers used by SSHGateway print their own tokens (DELETED,
NOT_FOUND, DIR_READY, UPLOAD_OK). Paths are always passed through Quote.

# Implementations

SSHGateway runs commands over golang.org/x/crypto/ssh, keeping one client
connection per server and one session per command. Cancelling the context
kills the remote command.

Two decorators wrap any Gateway:

	gw = remote.Instrument(remote.WithRetry(sshGateway, remote.DefaultRetryConfig()))

WithRetry retries StatFile and EnsureDirectory on transport errors with
exponential backoff. Instrument times every call and reports it to the
Observer installed with SetObserver.

The remotetest subpackage provides a scriptable fake for tests.
*/
package remote
