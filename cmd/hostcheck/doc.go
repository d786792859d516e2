// Command hostcheck verifies that the media servers the converter talks to
// are usable, and summarizes the local catalog.
//
// Usage:
//
//	hostcheck <command> [server-id]
//
// Commands:
//
//	servers     List the servers configured in SERVERS.
//
//	check <id>  Connect over SSH and verify that ffmpeg and ffprobe run and
//	            that CONTENT_ROOT exists and is writable. When neither
//	            SSH_PASSWORD nor SSH_KEY_FILE is set, the password is read
//	            from the terminal.
//
//	status      Print asset, storage and job counts from the catalog.
//
// The tool reads the same CONFIG_FILE and environment variables as the
// service.
package main
