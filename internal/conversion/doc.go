// Package conversion orchestrates video conversions for accounts.
//
// A conversion request is validated against the account's bitrate ceiling
// and the bucket's free space before anything runs remotely. It is then
// recorded as an in-progress job, which also guarantees at most one running
// conversion per source video. ffmpeg runs on the media server that holds
// the source. The output is sized and probed, then stored as a new asset
// that references the original. Failures leave no asset behind and return
// any quota held for the job.
//
// Requests that outlive their wait ceiling are reported as indeterminate.
// The Reconciler later commits or abandons them.
package conversion
