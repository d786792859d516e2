// Package assets handles uploaded videos: staging, quota checks, transfer to
// the bucket's media server, classification, listing, remote file checks and
// deletion.
//
// Files live on the media server under <content root>/<login>/<bucket>/ and
// the catalog stores paths relative to the content root.
package assets
